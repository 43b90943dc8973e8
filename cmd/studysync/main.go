package main

import (
	"errors"
	"os"

	"github.com/hyperengineering/studysync/internal/archive"
	"github.com/hyperengineering/studysync/internal/config"
)

// Exit codes.
const (
	exitOK           = 0
	exitFatal        = 1
	exitConfig       = 2
	exitConnectivity = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a fatal error to the process exit status.
// Retrieval failures never reach here; they are part of a completed run.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, archive.ErrConnectivity):
		return exitConnectivity
	default:
		return exitFatal
	}
}
