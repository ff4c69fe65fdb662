package seeder

import (
	"slices"
	"sync"
	"time"
)

// State is the terminal state of one identifier within a run.
type State string

const (
	StateUpserted        State = "upserted"
	StateSkippedCached   State = "skipped_cached"
	StateSkippedNotFound State = "skipped_not_found"
	StateFailed          State = "failed"
	// StateNotStarted marks ids the run stopped before fetching. They count
	// toward Result.Remaining, not Attempted.
	StateNotStarted State = "not_started"
)

// Failure kinds.
const (
	KindTransient  = "transient"
	KindMalformed  = "malformed"
	KindStatus     = "status"
	KindValidation = "validation"
	KindStore      = "store"
	KindUpstream   = "upstream"
)

// Outcome is the result for one identifier.
type Outcome struct {
	RunID   string        `json:"run_id"`
	ID      int           `json:"id"`
	State   State         `json:"state"`
	Created bool          `json:"created,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Failure is one failed id with enough detail to decide whether to retry it.
type Failure struct {
	ID     int    `json:"id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Result aggregates one seed invocation. It is built once per run and never
// persisted.
type Result struct {
	RunID           string    `json:"run_id"`
	Scope           string    `json:"scope"`
	Total           int       `json:"total"`
	Attempted       int       `json:"attempted"`
	Created         int       `json:"created"`
	Updated         int       `json:"updated"`
	Skipped         int       `json:"skipped"`
	SkippedCached   int       `json:"skipped_cached"`
	SkippedNotFound int       `json:"skipped_not_found"`
	Failed          int       `json:"failed"`
	Failures        []Failure `json:"failures"`
	Remaining       int       `json:"remaining"`
	Partial         bool      `json:"partial"`
	StopReason      string    `json:"stop_reason,omitempty"`
	CacheBypassed   bool      `json:"cache_bypassed"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationMS      int64     `json:"duration_ms"`
}

// Succeeded is the number of ids written to the store.
func (r *Result) Succeeded() int {
	return r.Created + r.Updated
}

// FailedIDs lists failed ids in ascending order, ready for SeedIDs.
func (r *Result) FailedIDs() []int {
	ids := make([]int, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.ID)
	}
	slices.Sort(ids)
	return ids
}

// tally is the single shared accumulator of a run. Once closed it ignores
// further outcomes.
type tally struct {
	mu     sync.Mutex
	res    Result
	closed bool
}

func newTally(runID, scope string, total int, started time.Time) *tally {
	return &tally{res: Result{
		RunID:     runID,
		Scope:     scope,
		Total:     total,
		Failures:  []Failure{},
		StartedAt: started,
	}}
}

// record reports false when the run has already returned.
func (t *tally) record(o Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || o.State == StateNotStarted {
		return false
	}

	t.res.Attempted++
	switch o.State {
	case StateUpserted:
		if o.Created {
			t.res.Created++
		} else {
			t.res.Updated++
		}
	case StateSkippedCached:
		t.res.SkippedCached++
	case StateSkippedNotFound:
		t.res.SkippedNotFound++
	case StateFailed:
		t.res.Failed++
		t.res.Failures = append(t.res.Failures, Failure{ID: o.ID, Kind: o.Kind, Reason: o.Reason})
	}
	return true
}

func (t *tally) bypassCache() {
	t.mu.Lock()
	t.res.CacheBypassed = true
	t.mu.Unlock()
}

// close freezes the tally and returns a snapshot.
func (t *tally) close(stopReason string, finished time.Time) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true

	res := t.res
	res.Failures = slices.Clone(t.res.Failures)
	res.Skipped = res.SkippedCached + res.SkippedNotFound
	res.Remaining = res.Total - res.Attempted
	res.StopReason = stopReason
	res.Partial = res.Remaining > 0
	res.FinishedAt = finished
	res.DurationMS = finished.Sub(res.StartedAt).Milliseconds()
	return &res
}
