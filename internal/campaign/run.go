package campaign

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Run statuses reported in summaries.
const (
	StatusCompleted  = "completed"
	StatusNoLeads    = "no_leads"
	StatusStopped    = "stopped"
	StatusAborted    = "aborted"
	StatusRunning    = "running"
	StatusNotRunning = "not_running"
)

// Abort reasons.
const (
	AbortOutsideHours = "outside_business_hours"
	AbortDeadline     = "deadline_exceeded"
	AbortStopped      = "stopped"
)

// Run kinds.
const (
	KindCampaign = "campaign"
	KindRetry    = "retry"
)

// RunSummary is the structured result of a campaign or retry run.
type RunSummary struct {
	RunID       string     `json:"run_id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	AbortReason string     `json:"abort_reason,omitempty"`
	Filter      Filter     `json:"filter"`
	Queued      int        `json:"queued"`
	Attempted   int        `json:"attempted"`
	Completed   int        `json:"completed"`
	Meetings    int        `json:"meetings"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Run is one pass over a queue of leads. Counters may keep moving after the
// run finished on its deadline, because placed calls are still recorded.
type Run struct {
	ID        string
	Kind      string
	Filter    Filter
	Queued    int
	StartedAt time.Time

	attempted atomic.Int64
	completed atomic.Int64
	meetings  atomic.Int64
	running   atomic.Bool

	mu          sync.Mutex
	abortReason string
	finishedAt  time.Time
	summary     RunSummary

	done chan struct{}
}

func newRun(id, kind string, filter Filter, queued int, now time.Time) *Run {
	r := &Run{
		ID:        id,
		Kind:      kind,
		Filter:    filter,
		Queued:    queued,
		StartedAt: now,
		done:      make(chan struct{}),
	}
	r.running.Store(true)
	return r
}

func (r *Run) Running() bool { return r.running.Load() }

// Done is closed when the run's summary is final.
func (r *Run) Done() <-chan struct{} { return r.done }

// abort records the first abort reason and stops further dispatch.
func (r *Run) abort(reason string) {
	r.mu.Lock()
	if r.abortReason == "" {
		r.abortReason = reason
	}
	r.mu.Unlock()
	r.running.Store(false)
}

func (r *Run) finish(now time.Time) RunSummary {
	r.running.Store(false)
	r.mu.Lock()
	r.finishedAt = now
	r.summary = r.snapshotLocked()
	summary := r.summary
	r.mu.Unlock()
	close(r.done)
	return summary
}

// Snapshot reports current counters. After Done it returns the final summary.
func (r *Run) Snapshot() RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finishedAt.IsZero() {
		return r.summary
	}
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() RunSummary {
	s := RunSummary{
		RunID:       r.ID,
		Kind:        r.Kind,
		AbortReason: r.abortReason,
		Filter:      r.Filter,
		Queued:      r.Queued,
		Attempted:   int(r.attempted.Load()),
		Completed:   int(r.completed.Load()),
		Meetings:    int(r.meetings.Load()),
		StartedAt:   r.StartedAt,
	}
	switch {
	case r.finishedAt.IsZero():
		s.Status = StatusRunning
	case r.Queued == 0:
		s.Status = StatusNoLeads
	case r.abortReason == AbortStopped:
		s.Status = StatusStopped
	case r.abortReason != "":
		s.Status = StatusAborted
	default:
		s.Status = StatusCompleted
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (RunSummary, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}
