package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/lifecycle"
	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
)

var (
	ErrAlreadyRunning   = errors.New("a campaign is already running")
	ErrRetryDisabled    = errors.New("retrying failed calls is disabled")
	ErrScheduleInPast   = errors.New("scheduled time must be in the future")
	ErrAlreadyScheduled = errors.New("a campaign is already scheduled")
)

// Call is a dialed call as seen by the scheduler.
type Call interface {
	Done() <-chan struct{}
	Outcome() (leads.Outcome, bool)
	Abort(reason string)
}

// Dialer starts calls. A failed dial may still return a finished Call whose
// outcome records the failure.
type Dialer interface {
	Dial(ctx context.Context, lead leads.Lead) (Call, error)
}

// Settings are the campaign tuning knobs.
type Settings struct {
	MaxConcurrentCalls  int           `json:"max_concurrent_calls"`
	CallTimeout         time.Duration `json:"call_timeout"`
	MaxCampaignDuration time.Duration `json:"max_campaign_duration"`
	StopGrace           time.Duration `json:"stop_grace"`
	RetryEnabled        bool          `json:"retry_failed_calls"`
	MaxRetries          int           `json:"max_retries"`
	Hours               Hours         `json:"-"`
}

type Options struct {
	Store    leads.Store
	Dialer   Dialer
	Settings Settings
	// ActiveCalls reports calls in flight across all runs.
	ActiveCalls func() int
	Now         func() time.Time
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

type scheduled struct {
	at     time.Time
	filter Filter
	timer  *time.Timer
}

// ScheduleInfo describes the pending scheduled campaign.
type ScheduleInfo struct {
	At     time.Time `json:"scheduled_time"`
	Filter Filter    `json:"filter"`
}

// Scheduler runs at most one campaign at a time.
type Scheduler struct {
	opts   Options
	logger *zap.Logger

	// slots bounds calls in flight across runs; a call left over from a
	// run that hit its deadline keeps its slot until it ends.
	slots *semaphore.Weighted

	mu       sync.Mutex
	current  *Run
	last     *Run
	schedule *scheduled
}

func NewScheduler(opts Options) *Scheduler {
	if opts.Settings.MaxConcurrentCalls <= 0 {
		opts.Settings.MaxConcurrentCalls = 3
	}
	if opts.Settings.CallTimeout <= 0 {
		opts.Settings.CallTimeout = 300 * time.Second
	}
	if opts.Settings.MaxCampaignDuration <= 0 {
		opts.Settings.MaxCampaignDuration = time.Hour
	}
	if opts.Settings.StopGrace <= 0 {
		opts.Settings.StopGrace = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ActiveCalls == nil {
		opts.ActiveCalls = func() int { return 0 }
	}
	return &Scheduler{
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		slots:  semaphore.NewWeighted(int64(opts.Settings.MaxConcurrentCalls)),
	}
}

// Begin reserves the run slot, loads the queue and starts dispatching in the
// background.
func (s *Scheduler) Begin(ctx context.Context, filter Filter) (*Run, error) {
	return s.begin(ctx, KindCampaign, filter, func(ctx context.Context) ([]leads.Lead, error) {
		pending, err := s.opts.Store.ListPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("list pending leads: %w", err)
		}
		return filter.Apply(pending), nil
	})
}

// StartCampaign runs a campaign and waits for its summary.
func (s *Scheduler) StartCampaign(ctx context.Context, filter Filter) (RunSummary, error) {
	run, err := s.Begin(ctx, filter)
	if err != nil {
		return RunSummary{}, err
	}
	return run.Wait(ctx)
}

// BeginRetry redials leads whose calls failed within maxAge. Phones that
// already failed more than MaxRetries times in the window are skipped.
func (s *Scheduler) BeginRetry(ctx context.Context, maxAge time.Duration) (*Run, error) {
	if !s.opts.Settings.RetryEnabled {
		return nil, ErrRetryDisabled
	}
	return s.begin(ctx, KindRetry, Filter{}, func(ctx context.Context) ([]leads.Lead, error) {
		failed, err := s.opts.Store.ListFailedSince(ctx, s.opts.Now().Add(-maxAge))
		if err != nil {
			return nil, fmt.Errorf("list failed calls: %w", err)
		}
		return retryQueue(failed, s.opts.Settings.MaxRetries), nil
	})
}

func (s *Scheduler) RetryFailedCalls(ctx context.Context, maxAge time.Duration) (RunSummary, error) {
	run, err := s.BeginRetry(ctx, maxAge)
	if err != nil {
		return RunSummary{}, err
	}
	return run.Wait(ctx)
}

func retryQueue(failed []leads.Result, maxRetries int) []leads.Lead {
	counts := make(map[string]int)
	latest := make(map[string]leads.Lead)
	var order []string
	for _, r := range failed {
		phone := r.Lead.Phone
		if phone == "" {
			continue
		}
		if _, seen := counts[phone]; !seen {
			order = append(order, phone)
		}
		counts[phone]++
		latest[phone] = r.Lead
	}
	out := make([]leads.Lead, 0, len(order))
	for _, phone := range order {
		if counts[phone] > maxRetries {
			continue
		}
		l := latest[phone]
		l.Status = leads.StatusRetry
		out = append(out, l)
	}
	return out
}

func (s *Scheduler) begin(ctx context.Context, kind string, filter Filter, load func(context.Context) ([]leads.Lead, error)) (*Run, error) {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	run := newRun(uuid.NewString(), kind, filter, 0, s.opts.Now())
	s.current = run
	s.mu.Unlock()

	queue, err := load(ctx)
	if err != nil {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		return nil, err
	}
	run.mu.Lock()
	run.Queued = len(queue)
	run.mu.Unlock()

	logger := s.logger.With(zap.String("run_id", run.ID), zap.String("kind", kind))
	if len(queue) == 0 {
		logger.Info("no leads to call")
		s.complete(run)
		return run, nil
	}
	logger.Info("campaign started", zap.Int("queued", len(queue)))
	go s.execute(run, queue, logger)
	return run, nil
}

func (s *Scheduler) complete(run *Run) RunSummary {
	summary := run.finish(s.opts.Now())
	s.mu.Lock()
	if s.current == run {
		s.current = nil
	}
	s.last = run
	s.mu.Unlock()
	s.opts.Metrics.ObserveCampaignRun(summary.Status)
	return summary
}

func (s *Scheduler) execute(run *Run, queue []leads.Lead, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Settings.MaxCampaignDuration)
	defer cancel()

	sem := s.slots
	var wg sync.WaitGroup

dispatch:
	for _, lead := range queue {
		if !run.Running() {
			run.abort(AbortStopped)
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			run.abort(AbortDeadline)
			break
		}
		switch {
		case !run.Running():
			sem.Release(1)
			run.abort(AbortStopped)
			break dispatch
		case !s.opts.Settings.Hours.Contains(s.opts.Now()):
			sem.Release(1)
			logger.Info("outside business hours, abandoning queue", zap.String("hours", s.opts.Settings.Hours.String()))
			run.abort(AbortOutsideHours)
			break dispatch
		}

		run.attempted.Add(1)
		wg.Add(1)
		go func(lead leads.Lead) {
			defer wg.Done()
			defer sem.Release(1)
			s.place(ctx, run, lead, logger)
		}(lead)
	}

	idle := make(chan struct{})
	go func() {
		wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		run.abort(AbortDeadline)
	}

	summary := s.complete(run)
	logger.Info("campaign finished",
		zap.String("status", summary.Status),
		zap.String("abort_reason", summary.AbortReason),
		zap.Int("attempted", summary.Attempted),
		zap.Int("completed", summary.Completed),
		zap.Int("meetings", summary.Meetings),
	)
}

// place dials one lead and holds the caller's slot until the call has ended.
func (s *Scheduler) place(ctx context.Context, run *Run, lead leads.Lead, logger *zap.Logger) {
	call, err := s.opts.Dialer.Dial(ctx, lead)
	if err != nil {
		logger.Warn("call not placed", zap.String("business", lead.DisplayName()), zap.Error(err))
	}
	if call == nil {
		return
	}

	timer := time.NewTimer(s.opts.Settings.CallTimeout)
	defer timer.Stop()
	select {
	case <-call.Done():
	case <-timer.C:
		call.Abort(lifecycle.ReasonCallTimeout)
		<-call.Done()
	}

	out, ok := call.Outcome()
	if !ok || out.Failed() {
		return
	}
	run.completed.Add(1)
	if out.ScheduledMeeting {
		run.meetings.Add(1)
	}
}

// StopResult is returned by StopCampaign.
type StopResult struct {
	Status      string `json:"status"`
	ActiveCalls int    `json:"active_calls"`
}

// StopCampaign stops dispatching new calls and waits up to StopGrace for the
// run's calls to finish.
func (s *Scheduler) StopCampaign(ctx context.Context) StopResult {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()
	if run == nil || !run.Running() {
		return StopResult{Status: StatusNotRunning, ActiveCalls: s.opts.ActiveCalls()}
	}

	run.abort(AbortStopped)
	s.logger.Info("campaign stop requested", zap.String("run_id", run.ID))

	grace := time.NewTimer(s.opts.Settings.StopGrace)
	defer grace.Stop()
	select {
	case <-run.Done():
	case <-grace.C:
	case <-ctx.Done():
	}
	return StopResult{Status: StatusStopped, ActiveCalls: s.opts.ActiveCalls()}
}

// ScheduleCampaign starts a campaign with filter at the given time.
func (s *Scheduler) ScheduleCampaign(at time.Time, filter Filter) (ScheduleInfo, error) {
	delay := at.Sub(s.opts.Now())
	if delay <= 0 {
		return ScheduleInfo{}, ErrScheduleInPast
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule != nil {
		return ScheduleInfo{}, ErrAlreadyScheduled
	}
	sch := &scheduled{at: at, filter: filter}
	sch.timer = time.AfterFunc(delay, func() { s.fireSchedule(sch) })
	s.schedule = sch
	s.logger.Info("campaign scheduled", zap.Time("at", at))
	return ScheduleInfo{At: at, Filter: filter}, nil
}

func (s *Scheduler) fireSchedule(sch *scheduled) {
	s.mu.Lock()
	if s.schedule != sch {
		s.mu.Unlock()
		return
	}
	s.schedule = nil
	s.mu.Unlock()

	if _, err := s.Begin(context.Background(), sch.filter); err != nil {
		s.logger.Warn("scheduled campaign did not start", zap.Error(err))
	}
}

// CancelSchedule drops the pending scheduled campaign, if any.
func (s *Scheduler) CancelSchedule() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return false
	}
	s.schedule.timer.Stop()
	s.schedule = nil
	return true
}

// StatusReport is the campaign status view.
type StatusReport struct {
	Running       bool             `json:"is_running"`
	ActiveCalls   int              `json:"active_calls"`
	WithinHours   bool             `json:"within_business_hours"`
	BusinessHours string           `json:"business_hours"`
	Current       *RunSummary      `json:"current_run,omitempty"`
	Last          *RunSummary      `json:"last_run,omitempty"`
	Schedule      *ScheduleInfo    `json:"scheduled,omitempty"`
	Statistics    leads.Statistics `json:"statistics"`
	Settings      Settings         `json:"settings"`
}

func (s *Scheduler) Status(ctx context.Context) (StatusReport, error) {
	s.mu.Lock()
	current, last, sch := s.current, s.last, s.schedule
	s.mu.Unlock()

	report := StatusReport{
		ActiveCalls:   s.opts.ActiveCalls(),
		WithinHours:   s.opts.Settings.Hours.Contains(s.opts.Now()),
		BusinessHours: s.opts.Settings.Hours.String(),
		Settings:      s.opts.Settings,
	}
	if current != nil {
		snap := current.Snapshot()
		report.Running = current.Running()
		report.Current = &snap
	}
	if last != nil {
		snap := last.Snapshot()
		report.Last = &snap
	}
	if sch != nil {
		report.Schedule = &ScheduleInfo{At: sch.at, Filter: sch.filter}
	}
	stats, err := s.opts.Store.Statistics(ctx)
	if err != nil {
		return report, fmt.Errorf("lead statistics: %w", err)
	}
	report.Statistics = stats
	return report, nil
}
