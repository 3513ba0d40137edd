//go:build windows
// +build windows

package toolexec

import (
	"os"
	"os/exec"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
)

func setProcessGroup(cmd *exec.Cmd) {}

// TODO: use a job object so grandchildren die with the tool.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return toolrun.ExitInternal
	}
	return state.ExitCode()
}
