//go:build !windows
// +build !windows

package toolexec

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup kills the tool and everything it spawned
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}

// exitStatus maps a death by signal to 128+signal, the shell convention,
// so it never collides with the reserved negative codes
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return toolrun.ExitInternal
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
