package cmd

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/overdub/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage Overdub configuration profiles.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use <profile>",
	Short: "Set the active configuration profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		root, err := config.ValidateConfigurationFormat(path)
		if err != nil {
			return err
		}
		if _, ok := root.Configs[args[0]]; !ok {
			return fmt.Errorf("configuration profile '%s' not found", args[0])
		}
		if err := config.UpdateActiveConfig(path, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active profile set to %s\n", args[0])
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every profile in the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		root, err := config.ValidateConfigurationFormat(path)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(root.Configs))
		for name := range root.Configs {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if _, err := config.LoadWithProfile(path, name); err != nil {
				return fmt.Errorf("profile '%s': %w", name, err)
			}
			marker := " "
			if name == root.ActiveConfig {
				marker = "*"
			}
			fmt.Printf(" %s %s\n", marker, name)
		}
		fmt.Printf("%s is valid (%d profiles)\n", path, len(names))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configUseCmd)
	configCmd.AddCommand(configValidateCmd)
}
