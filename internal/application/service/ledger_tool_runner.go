package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
)

// ErrInvocationNotRecorded is returned when a tool_started or tool_finished
// entry cannot be written
var ErrInvocationNotRecorded = errors.New("tool invocation not recorded")

// ToolObserver receives finished invocations, e.g. for metrics
type ToolObserver interface {
	ObserveTool(res toolrun.Result)
}

// LedgerToolRunner wraps a ToolRunner so that every invocation is bracketed
// by tool_started and tool_finished ledger entries. A crash between the two
// leaves a dangling tool_started that resume treats as an unknown outcome.
type LedgerToolRunner struct {
	next     output.ToolRunner
	ledger   *RunLedger
	observer ToolObserver
	newID    func() string
	logger   app.Logger
}

// NewLedgerToolRunner creates the decorator. observer may be nil.
func NewLedgerToolRunner(next output.ToolRunner, l *RunLedger, observer ToolObserver, logger app.Logger) *LedgerToolRunner {
	if logger == nil {
		logger = app.GetLogger()
	}
	return &LedgerToolRunner{
		next:     next,
		ledger:   l,
		observer: observer,
		newID:    uuid.NewString,
		logger:   logger,
	}
}

var _ output.CheckedToolRunner = (*LedgerToolRunner)(nil)

// RunTool never returns an error. An invocation that could not be recorded
// is reported as an internal failure.
func (r *LedgerToolRunner) RunTool(ctx context.Context, req toolrun.Request) toolrun.Result {
	res, err := r.RunToolChecked(ctx, req)
	if err != nil {
		return toolrun.Failure(res.InvocationID, res.ToolID, toolrun.ExitInternal, err.Error(), res.Duration)
	}
	return res
}

// RunToolChecked runs the tool and returns ErrInvocationNotRecorded when
// either ledger entry could not be written. A failed tool_started write
// means the tool is not run at all.
func (r *LedgerToolRunner) RunToolChecked(ctx context.Context, req toolrun.Request) (toolrun.Result, error) {
	if req.InvocationID == "" {
		req.InvocationID = r.newID()
	}

	_, err := r.ledger.Append(ctx, ledger.EventToolStarted, ledger.ToolStartedPayload{
		InvocationID:  req.InvocationID,
		ToolID:        req.ToolID,
		TaskID:        req.TaskID,
		WorkspaceRoot: req.WorkspaceRoot,
	})
	if err != nil {
		r.logger.Error("tool %s (%s): cannot record start: %v", req.ToolID, req.InvocationID, err)
		return toolrun.Failure(req.InvocationID, req.ToolID, toolrun.ExitInternal, fmt.Sprintf("ledger: %v", err), 0),
			fmt.Errorf("%w: start of %s: %v", ErrInvocationNotRecorded, req.InvocationID, err)
	}

	r.logger.Debug("tool %s started: invocation=%s task=%s", req.ToolID, req.InvocationID, req.TaskID)
	res := r.next.RunTool(ctx, req)
	res.InvocationID = req.InvocationID
	if res.ToolID == "" {
		res.ToolID = req.ToolID
	}

	// the finish record must land even when the run is being cancelled
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, err = r.ledger.Append(finishCtx, ledger.EventToolFinished, ledger.ToolFinishedPayload{
		InvocationID: res.InvocationID,
		ToolID:       res.ToolID,
		TaskID:       req.TaskID,
		ExitCode:     res.ExitCode,
		Success:      res.Success,
		DurationMs:   res.Duration.Milliseconds(),
		Message:      res.Message,
	})
	if r.observer != nil {
		r.observer.ObserveTool(res)
	}
	if err != nil {
		r.logger.Error("tool %s (%s): cannot record finish: %v", req.ToolID, req.InvocationID, err)
		return res, fmt.Errorf("%w: finish of %s: %v", ErrInvocationNotRecorded, req.InvocationID, err)
	}
	r.logger.Info("tool %s finished: task=%s exit=%d success=%t duration=%s", res.ToolID, req.TaskID, res.ExitCode, res.Success, res.Duration)
	return res, nil
}
