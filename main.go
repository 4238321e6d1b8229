package main

import "github.com/audiolibrelab/overdub/cmd"

func main() {
	cmd.Execute()
}
