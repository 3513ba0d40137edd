//go:build windows
// +build windows

package cli

import (
	"os"
)

// getSignalsToHandle returns the list of signals to handle on Windows
func getSignalsToHandle() []os.Signal {
	return []os.Signal{os.Interrupt}
}
