package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/overdub/internal/config"
	"github.com/audiolibrelab/overdub/internal/service"
	"github.com/audiolibrelab/overdub/internal/session"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive recording session",
	Long: `Open an interactive prompt with the four tracks loaded.

Arm a track with 'record 1', stop it with 'stop 1' and build the song up
one take at a time. Type 'help' for all commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}

		rl, err := readline.NewEx(&readline.Config{
			Prompt:       "overdub> ",
			HistoryFile:  filepath.Join(homeDir, ".overdub_history"),
			AutoComplete: shellCompleter(cfg.Session.TrackCount),
		})
		if err != nil {
			return fmt.Errorf("error initializing readline: %w", err)
		}
		defer rl.Close()

		rt, err := startService(cfg, &shellObserver{out: rl.Stdout()})
		if err != nil {
			return fmt.Errorf("failed to start recorder: %w", err)
		}
		defer rt.Close()

		sh := &shell{svc: rt.svc, out: rl.Stdout()}
		sh.printHelp()
		sh.printStatus()

		for {
			input, err := rl.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					fmt.Fprintln(rl.Stdout(), "Exiting overdub shell...")
					return nil
				}
				return fmt.Errorf("error reading input: %w", err)
			}

			if !sh.handle(cmd.Context(), input) {
				return nil
			}
		}
	},
}

func shellCompleter(trackCount int) *readline.PrefixCompleter {
	tracks := func() []readline.PrefixCompleterInterface {
		items := make([]readline.PrefixCompleterInterface, 0, trackCount)
		for i := 1; i <= trackCount; i++ {
			items = append(items, readline.PcItem(strconv.Itoa(i)))
		}
		return items
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("record", tracks()...),
		readline.PcItem("stop", tracks()...),
		readline.PcItem("cancel", tracks()...),
		readline.PcItem("play", tracks()...),
		readline.PcItem("stoptrack", tracks()...),
		readline.PcItem("delete", tracks()...),
		readline.PcItem("gain", tracks()...),
		readline.PcItem("pan", tracks()...),
		readline.PcItem("playall"),
		readline.PcItem("stopall"),
		readline.PcItem("bpm"),
		readline.PcItem("export"),
		readline.PcItem("status"),
		readline.PcItem("exports"),
		readline.PcItem("sources"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// shell turns prompt lines into service calls
type shell struct {
	svc service.Service
	out io.Writer
}

func (sh *shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(sh.out, format, args...)
}

// handle runs one command line; it returns false when the shell should exit
func (sh *shell) handle(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return true
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch verb {
	case "exit", "quit":
		return false
	case "help":
		sh.printHelp()
	case "status":
		sh.printStatus()
	case "record":
		err = sh.withTrack(args, func(id int) error { return sh.svc.Record(ctx, id) })
	case "stop":
		err = sh.withTrack(args, sh.svc.Stop)
	case "cancel":
		err = sh.withTrack(args, func(id int) error {
			discard := len(args) > 1 && args[1] == "discard"
			return sh.svc.Cancel(id, discard)
		})
	case "play":
		err = sh.withTrack(args, sh.svc.Play)
	case "stoptrack":
		err = sh.withTrack(args, sh.svc.StopTrack)
	case "delete":
		err = sh.withTrack(args, sh.svc.Delete)
	case "gain":
		err = sh.withTrackValue(args, sh.svc.SetGain)
	case "pan":
		err = sh.withTrackValue(args, sh.svc.SetPan)
	case "playall":
		err = sh.svc.PlayAll()
	case "stopall":
		err = sh.svc.StopAll()
	case "bpm":
		err = sh.setBPM(args)
	case "export":
		err = sh.export(ctx, strings.Join(args, " "))
	case "exports":
		err = sh.listExports(ctx)
	case "sources":
		err = sh.listSources(ctx)
	default:
		sh.printf("Unknown command: %s (type 'help')\n", verb)
		return true
	}

	if err != nil {
		if errors.Is(err, session.ErrNotRecording) {
			sh.printf("Track is not recording\n")
		} else {
			sh.printf("Error [%s]: %v\n", service.ErrorKind(err), err)
		}
	}
	return true
}

func parseTrack(args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("track number required")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid track number: %s", args[0])
	}
	return id, nil
}

func (sh *shell) withTrack(args []string, action func(int) error) error {
	id, err := parseTrack(args)
	if err != nil {
		return err
	}
	return action(id)
}

func (sh *shell) withTrackValue(args []string, set func(int, float64) error) error {
	id, err := parseTrack(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("value required")
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value: %s", args[1])
	}
	return set(id, v)
}

func (sh *shell) setBPM(args []string) error {
	if len(args) == 0 {
		sh.printf("BPM: %d\n", sh.svc.Status().BPM)
		return nil
	}
	bpm, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid bpm: %s", args[0])
	}
	if err := sh.svc.SetBPM(bpm); err != nil {
		return err
	}
	if bpm < config.MinBPM || bpm > config.MaxBPM {
		sh.printf("BPM set to %d (recording needs %d-%d)\n", bpm, config.MinBPM, config.MaxBPM)
	}
	return nil
}

func (sh *shell) export(ctx context.Context, name string) error {
	path, err := sh.svc.Export(ctx, name)
	if err != nil {
		return err
	}
	sh.printf("Exported %s\n", path)
	return nil
}

func (sh *shell) listExports(ctx context.Context) error {
	exports, err := sh.svc.ListExports(ctx)
	if err != nil {
		return err
	}
	if len(exports) == 0 {
		sh.printf("No exports yet\n")
		return nil
	}
	for _, e := range exports {
		sh.printf("  %-30s %8s  %5.1fs  %s\n", e.Name, e.SizeHuman, e.Duration, e.CreatedHuman)
	}
	return nil
}

func (sh *shell) listSources(ctx context.Context) error {
	ports, err := sh.svc.ListSources(ctx)
	if err != nil {
		return err
	}
	configured := make(map[string]bool)
	for _, s := range sh.svc.GetConfig().Audio.Sources {
		configured[s] = true
	}
	for i, p := range ports {
		mark := " "
		if configured[p] {
			mark = "*"
		}
		sh.printf(" %s %d. %s\n", mark, i+1, p)
	}
	return nil
}

func (sh *shell) printStatus() {
	st := sh.svc.Status()
	sh.printf("State: %s  BPM: %d", st.State, st.BPM)
	if st.ActiveTrack != 0 {
		sh.printf("  Active: track %d", st.ActiveTrack)
	}
	if st.CountIn >= 0 {
		sh.printf("  Count-in: %d", st.CountIn)
	}
	sh.printf("\n")

	for _, t := range st.Tracks {
		flags := ""
		switch {
		case t.Recording:
			flags = "REC"
		case t.Playing:
			flags = "PLAY"
		case t.HasBuffer:
			flags = "ready"
		default:
			flags = "empty"
		}
		sh.printf("  %d. %-5s  %6s  gain %.2f  pan %+.2f\n",
			t.ID, flags, t.Duration.Round(100*time.Millisecond), t.Gain, t.Pan)
	}
	if last := sh.svc.GetLastError(); last != "" {
		sh.printf("Last error: %s\n", last)
	}
}

func (sh *shell) printHelp() {
	sh.printf("Commands:\n")
	sh.printf("  record <n>           Count in and record onto track n\n")
	sh.printf("  stop <n>             Stop recording and keep the take\n")
	sh.printf("  cancel <n> [discard] Abort recording, keeping the partial take unless 'discard'\n")
	sh.printf("  play <n>             Play track n\n")
	sh.printf("  stoptrack <n>        Stop playing track n\n")
	sh.printf("  delete <n>           Clear track n\n")
	sh.printf("  gain <n> <value>     Set track gain\n")
	sh.printf("  pan <n> <value>      Set track pan (-1 left, 1 right)\n")
	sh.printf("  playall / stopall    Start or stop every track\n")
	sh.printf("  bpm [value]          Show or set the count-in tempo\n")
	sh.printf("  export [name]        Render a WAV mixdown\n")
	sh.printf("  exports              List rendered mixdowns\n")
	sh.printf("  sources              List capture ports (* = configured)\n")
	sh.printf("  status               Show track states\n")
	sh.printf("  exit                 Leave the shell\n\n")
}

// shellObserver prints session events as they happen
type shellObserver struct {
	session.NopObserver
	out io.Writer
}

func (o *shellObserver) OnCountIn(id, remaining int) {
	if remaining > 0 {
		fmt.Fprintf(o.out, "  track %d: %d...\n", id, remaining)
	}
}

func (o *shellObserver) OnRecordStart(id int) {
	fmt.Fprintf(o.out, "  track %d: recording\n", id)
}

func (o *shellObserver) OnBufferAttached(id int, d time.Duration) {
	fmt.Fprintf(o.out, "  track %d: take ready (%s)\n", id, d.Round(100*time.Millisecond))
}

func (o *shellObserver) OnTakeLost(id int, err error) {
	fmt.Fprintf(o.out, "  track %d: take lost: %v\n", id, err)
}
