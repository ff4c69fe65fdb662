package seeder

import "log/slog"

// RunInfo describes a run as it starts.
type RunInfo struct {
	RunID         string `json:"run_id"`
	Scope         string `json:"scope"`
	Total         int    `json:"total"`
	Batches       int    `json:"batches"`
	BatchSize     int    `json:"batch_size"`
	ForceRefresh  bool   `json:"force_refresh"`
	CacheBypassed bool   `json:"cache_bypassed"`
}

// BatchInfo describes one batch as it starts.
type BatchInfo struct {
	RunID   string `json:"run_id"`
	Index   int    `json:"index"`
	Of      int    `json:"of"`
	FirstID int    `json:"first_id"`
	LastID  int    `json:"last_id"`
	Size    int    `json:"size"`
}

// Reporter observes run progress. OnOutcome is called from worker goroutines
// and must be safe for concurrent use. Implementations must not block.
type Reporter interface {
	OnRunStart(info RunInfo)
	OnBatchStart(info BatchInfo)
	OnOutcome(o Outcome)
	OnRunComplete(res *Result)
}

// NopReporter ignores everything.
type NopReporter struct{}

func (NopReporter) OnRunStart(RunInfo)     {}
func (NopReporter) OnBatchStart(BatchInfo) {}
func (NopReporter) OnOutcome(Outcome)      {}
func (NopReporter) OnRunComplete(*Result)  {}

type multiReporter []Reporter

// Reporters fans out to every non-nil reporter.
func Reporters(rs ...Reporter) Reporter {
	out := make(multiReporter, 0, len(rs))
	for _, r := range rs {
		if r == nil {
			continue
		}
		if m, ok := r.(multiReporter); ok {
			out = append(out, m...)
			continue
		}
		out = append(out, r)
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiReporter) OnRunStart(info RunInfo) {
	for _, r := range m {
		r.OnRunStart(info)
	}
}

func (m multiReporter) OnBatchStart(info BatchInfo) {
	for _, r := range m {
		r.OnBatchStart(info)
	}
}

func (m multiReporter) OnOutcome(o Outcome) {
	for _, r := range m {
		r.OnOutcome(o)
	}
}

func (m multiReporter) OnRunComplete(res *Result) {
	for _, r := range m {
		r.OnRunComplete(res)
	}
}

// LogReporter writes run progress to a structured logger.
type LogReporter struct {
	log *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{log: logger.With("component", "seeder")}
}

func (l *LogReporter) OnRunStart(info RunInfo) {
	l.log.Info("seed run started",
		"run_id", info.RunID,
		"scope", info.Scope,
		"total", info.Total,
		"batches", info.Batches,
		"batch_size", info.BatchSize,
		"force", info.ForceRefresh,
		"cache_bypassed", info.CacheBypassed)
}

func (l *LogReporter) OnBatchStart(info BatchInfo) {
	l.log.Info("seeding batch",
		"run_id", info.RunID,
		"batch", info.Index,
		"of", info.Of,
		"first_id", info.FirstID,
		"last_id", info.LastID)
}

func (l *LogReporter) OnOutcome(o Outcome) {
	if o.State == StateFailed {
		l.log.Warn("species failed", "run_id", o.RunID, "id", o.ID, "kind", o.Kind, "reason", o.Reason)
		return
	}
	l.log.Debug("species done", "run_id", o.RunID, "id", o.ID, "state", o.State, "created", o.Created, "elapsed", o.Elapsed)
}

func (l *LogReporter) OnRunComplete(res *Result) {
	attrs := []any{
		"run_id", res.RunID,
		"scope", res.Scope,
		"attempted", res.Attempted,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"remaining", res.Remaining,
		"duration_ms", res.DurationMS,
	}
	if res.Partial {
		l.log.Warn("seed run stopped early", append(attrs, "stop_reason", res.StopReason)...)
		return
	}
	l.log.Info("✓ seed run complete", attrs...)
}
