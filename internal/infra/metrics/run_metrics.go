// Package metrics exports run metrics in the Prometheus text format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	gmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
)

// RunMetrics collects metrics of runs driven by this process on a private
// registry. Flush writes them to a node_exporter textfile.
//
// Metrics:
//   - repoforge_state_transitions_total{to}
//   - repoforge_guardrail_checkpoints_total{checkpoint,severity}
//   - repoforge_tasks_total{outcome}
//   - repoforge_tool_invocations_total{tool,result}
//   - repoforge_tool_duration_seconds{tool}
//   - repoforge_gaps{status}
type RunMetrics struct {
	registry *prometheus.Registry
	textfile string

	transitions  *prometheus.CounterVec
	checkpoints  *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	tools        *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	gaps         *prometheus.GaugeVec
}

// NewRunMetrics creates the collectors. An empty textfile disables Flush.
func NewRunMetrics(textfile string) *RunMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &RunMetrics{
		registry: reg,
		textfile: textfile,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "repoforge_state_transitions_total",
			Help: "Run state transitions by target state",
		}, []string{"to"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "repoforge_guardrail_checkpoints_total",
			Help: "Evaluated guardrail checkpoints by resulting severity",
		}, []string{"checkpoint", "severity"}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "repoforge_tasks_total",
			Help: "Finished tasks by outcome",
		}, []string{"outcome"}),
		tools: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "repoforge_tool_invocations_total",
			Help: "Tool invocations by tool and result",
		}, []string{"tool", "result"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repoforge_tool_duration_seconds",
			Help:    "Duration of tool invocations",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"tool"}),
		gaps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repoforge_gaps",
			Help: "Gaps of the current run by status",
		}, []string{"status"}),
	}
}

// Registry exposes the private registry
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *RunMetrics) ObserveTransition(from, to run.State) {
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *RunMetrics) ObserveCheckpoint(res gmodel.CheckpointResult) {
	m.checkpoints.WithLabelValues(string(res.CheckpointID), string(res.Severity)).Inc()
}

func (m *RunMetrics) ObserveTask(outcome workstream.TaskOutcome) {
	m.tasks.WithLabelValues(string(outcome)).Inc()
}

// ObserveTool may be called from worker goroutines
func (m *RunMetrics) ObserveTool(res toolrun.Result) {
	result := "success"
	switch {
	case res.Success:
	case res.IsSentinel():
		result = toolrun.SentinelName(res.ExitCode)
	default:
		result = "failure"
	}
	m.tools.WithLabelValues(res.ToolID, result).Inc()
	m.toolDuration.WithLabelValues(res.ToolID).Observe(res.Duration.Seconds())
}

// ObserveGaps replaces the gap gauges with counts
func (m *RunMetrics) ObserveGaps(counts map[string]int) {
	m.gaps.Reset()
	for status, n := range counts {
		m.gaps.WithLabelValues(status).Set(float64(n))
	}
}

// Flush writes the textfile
func (m *RunMetrics) Flush() error {
	if m.textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.textfile), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(m.textfile, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", m.textfile, err)
	}
	return nil
}
