// Package toolexec runs external tools as child processes under the
// never-fail contract of the tool execution boundary.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
)

// DefaultMaxOutput caps each captured stream
const DefaultMaxOutput = 1 << 20

// Runner implements output.ToolRunner with os/exec.
// The whole process group of a tool is killed on timeout or cancellation.
type Runner struct {
	MaxOutput int           // per stream; 0 means DefaultMaxOutput
	KillGrace time.Duration // how long to wait for pipes after a kill
}

// NewRunner returns a Runner with default limits
func NewRunner() *Runner {
	return &Runner{MaxOutput: DefaultMaxOutput, KillGrace: 2 * time.Second}
}

// RunTool executes req. It never returns an error and never panics.
func (r *Runner) RunTool(ctx context.Context, req toolrun.Request) (res toolrun.Result) {
	start := time.Now()
	invID := req.InvocationID
	if invID == "" {
		invID = uuid.NewString()
	}
	defer func() {
		if p := recover(); p != nil {
			res = toolrun.Failure(invID, req.ToolID, toolrun.ExitInternal, fmt.Sprintf("internal adapter error: %v", p), time.Since(start))
		}
	}()
	fail := func(code int, format string, args ...any) toolrun.Result {
		return toolrun.Failure(invID, req.ToolID, code, fmt.Sprintf(format, args...), time.Since(start))
	}

	if err := ctx.Err(); err != nil {
		return fail(toolrun.ExitCancelled, "cancelled before start: %v", err)
	}
	if req.Bin == "" {
		return fail(toolrun.ExitInternal, "tool %s has no binary configured", req.ToolID)
	}
	if req.Timeout <= 0 {
		return fail(toolrun.ExitInternal, "tool %s has no timeout", req.ToolID)
	}
	if info, err := os.Stat(req.WorkspaceRoot); err != nil || !info.IsDir() {
		return fail(toolrun.ExitInternal, "workspace %q is not a directory", req.WorkspaceRoot)
	}

	bin, err := exec.LookPath(req.Bin)
	if err != nil {
		return fail(toolrun.ExitNotFound, "tool not found: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	stdout := newCappedBuffer(r.maxOutput())
	stderr := newCappedBuffer(r.maxOutput())

	cmd := exec.Command(bin, req.Args...)
	cmd.Dir = req.WorkspaceRoot
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.killGrace()
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fail(toolrun.ExitNotFound, "tool not found: %v", err)
		}
		return fail(toolrun.ExitInternal, "start %s: %v", req.Bin, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-cctx.Done():
		killProcessGroup(cmd)
		<-done
		res = toolrun.Result{
			InvocationID: invID,
			ToolID:       req.ToolID,
			Stdout:       stdout.String(),
			Stderr:       stderr.String(),
			Duration:     time.Since(start),
		}
		if ctx.Err() != nil {
			res.ExitCode = toolrun.ExitCancelled
			res.Message = fmt.Sprintf("cancelled: %v", ctx.Err())
		} else {
			res.ExitCode = toolrun.ExitTimeout
			res.Message = fmt.Sprintf("timed out after %s", req.Timeout)
		}
		return res
	}

	res = toolrun.Result{
		InvocationID: invID,
		ToolID:       req.ToolID,
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		Duration:     time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = toolrun.ExitSuccess
		res.Success = true
		res.Message = "ok"
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitStatus(exitErr.ProcessState)
		res.Message = exitErr.Error()
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// the tool exited but a descendant kept its output open
		res.ExitCode = exitStatus(cmd.ProcessState)
		res.Success = res.ExitCode == toolrun.ExitSuccess
		res.Message = "output pipes held open after exit"
	default:
		res.ExitCode = toolrun.ExitInternal
		res.Message = fmt.Sprintf("wait %s: %v", req.Bin, waitErr)
	}
	return res
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return r.MaxOutput
}

func (r *Runner) killGrace() time.Duration {
	if r.KillGrace <= 0 {
		return 2 * time.Second
	}
	return r.KillGrace
}

// mergeEnv appends extra in key order so later values win
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := append([]string(nil), base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// cappedBuffer keeps the first max bytes and drops the rest
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
