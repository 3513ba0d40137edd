//go:build !windows
// +build !windows

package cli

import (
	"os"
	"syscall"
)

// getSignalsToHandle returns the list of signals to handle on Unix systems
func getSignalsToHandle() []os.Signal {
	return []os.Signal{
		os.Interrupt,    // Ctrl+C (SIGINT)
		syscall.SIGTERM, // kill command
	}
}
