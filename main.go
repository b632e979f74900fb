package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/dhascan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
