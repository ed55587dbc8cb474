package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gireeshbd/ai-sales-agent/internal/config"
	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

type fakeCall struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	out  leads.Outcome
}

func newFakeCall() *fakeCall { return &fakeCall{done: make(chan struct{})} }

func (c *fakeCall) finish(out leads.Outcome) {
	c.once.Do(func() {
		c.mu.Lock()
		c.out = out
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeCall) Done() <-chan struct{} { return c.done }

func (c *fakeCall) Outcome() (leads.Outcome, bool) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.out, true
	default:
		return leads.Outcome{}, false
	}
}

func (c *fakeCall) Abort(reason string) {
	c.finish(leads.Outcome{CallStatus: leads.CallFailed, FailureReason: reason})
}

var errNoPhone = errors.New("lead has no phone number")

type fakeDialer struct {
	hold chan struct{}

	mu          sync.Mutex
	dialed      []leads.Lead
	inflight    int
	maxInflight int
}

func (d *fakeDialer) Dial(_ context.Context, lead leads.Lead) (Call, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, lead)
	d.mu.Unlock()

	c := newFakeCall()
	if lead.Phone == "" {
		c.finish(leads.Outcome{CallStatus: leads.CallFailed, FailureReason: "no_phone_number"})
		return c, errNoPhone
	}

	d.mu.Lock()
	d.inflight++
	if d.inflight > d.maxInflight {
		d.maxInflight = d.inflight
	}
	d.mu.Unlock()

	go func() {
		if d.hold != nil {
			<-d.hold
		}
		d.mu.Lock()
		d.inflight--
		d.mu.Unlock()
		c.finish(leads.Outcome{
			CallStatus:       leads.CallAnswered,
			ScheduledMeeting: lead.Category == "Restaurant",
		})
	}()
	return c, nil
}

func (d *fakeDialer) dialedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed)
}

func allDay() Hours {
	return Hours{Start: config.Clock{}, End: config.Clock{Hour: 23, Minute: 59, Second: 59}, Location: time.UTC}
}

func newScheduler(store leads.Store, d Dialer, tune func(*Settings)) *Scheduler {
	settings := Settings{
		MaxConcurrentCalls:  3,
		CallTimeout:         5 * time.Second,
		MaxCampaignDuration: 10 * time.Second,
		StopGrace:           time.Second,
		RetryEnabled:        true,
		MaxRetries:          2,
		Hours:               allDay(),
	}
	if tune != nil {
		tune(&settings)
	}
	return NewScheduler(Options{Store: store, Dialer: d, Settings: settings})
}

func TestFilterApply(t *testing.T) {
	in := []leads.Lead{
		{BusinessName: "a", Category: "Restaurant", SizeTier: "Small"},
		{BusinessName: "b", Category: "healthcare", SizeTier: "small"},
		{BusinessName: "c", Category: "RESTAURANT", SizeTier: "Large"},
		{BusinessName: "d", Category: "restaurant", SizeTier: "SMALL"},
	}
	got := Filter{Categories: []string{"restaurant"}, SizeTiers: []string{"small"}, MaxCalls: 1}.Apply(in)
	if len(got) != 1 || got[0].BusinessName != "a" {
		t.Fatalf("Apply() = %+v, want only a", got)
	}
	got = Filter{Categories: []string{"Restaurant"}}.Apply(in)
	if len(got) != 3 || got[1].BusinessName != "c" {
		t.Fatalf("Apply() = %+v, want a, c, d", got)
	}
	if got := (Filter{}).Apply(in); len(got) != 4 {
		t.Fatalf("empty filter kept %d leads, want 4", len(got))
	}
}

func TestHoursContains(t *testing.T) {
	day := Hours{Start: config.Clock{Hour: 9}, End: config.Clock{Hour: 17}, Location: time.UTC}
	at := func(h, m, s int) time.Time { return time.Date(2026, 3, 2, h, m, s, 0, time.UTC) }
	cases := []struct {
		h    Hours
		t    time.Time
		want bool
	}{
		{day, at(9, 0, 0), true},
		{day, at(17, 0, 0), true},
		{day, at(17, 0, 1), false},
		{day, at(8, 59, 59), false},
		{Hours{Start: config.Clock{Hour: 22}, End: config.Clock{Hour: 2}, Location: time.UTC}, at(23, 30, 0), true},
		{Hours{Start: config.Clock{Hour: 22}, End: config.Clock{Hour: 2}, Location: time.UTC}, at(1, 0, 0), true},
		{Hours{Start: config.Clock{Hour: 22}, End: config.Clock{Hour: 2}, Location: time.UTC}, at(12, 0, 0), false},
		{Hours{Start: config.Clock{Hour: 9}, End: config.Clock{Hour: 17}, Location: time.FixedZone("X", 5*3600)}, at(5, 0, 0), true},
	}
	for i, tc := range cases {
		if got := tc.h.Contains(tc.t); got != tc.want {
			t.Fatalf("case %d: Contains(%s) = %v, want %v", i, tc.t, got, tc.want)
		}
	}
}

func TestStartCampaignCountsEveryAttempt(t *testing.T) {
	store := leads.NewInMemoryStore(
		leads.Lead{Phone: "+15550000001", BusinessName: "Tony's Pizza", Category: "Restaurant"},
		leads.Lead{BusinessName: "No Phone LLC", Category: "Retail"},
	)
	d := &fakeDialer{}
	s := newScheduler(store, d, nil)

	summary, err := s.StartCampaign(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("StartCampaign() error = %v", err)
	}
	if summary.Status != StatusCompleted || summary.Queued != 2 || summary.Attempted != 2 {
		t.Fatalf("summary = %+v, want completed with 2 queued and 2 attempted", summary)
	}
	if summary.Completed != 1 || summary.Meetings != 1 {
		t.Fatalf("completed/meetings = %d/%d, want 1/1", summary.Completed, summary.Meetings)
	}
	if summary.FinishedAt == nil {
		t.Fatalf("FinishedAt should be set")
	}
}

func TestStartCampaignWithoutLeads(t *testing.T) {
	s := newScheduler(leads.NewInMemoryStore(), &fakeDialer{}, nil)
	summary, err := s.StartCampaign(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("StartCampaign() error = %v", err)
	}
	if summary.Status != StatusNoLeads {
		t.Fatalf("Status = %q, want no_leads", summary.Status)
	}
	// The slot is free again.
	if _, err := s.StartCampaign(context.Background(), Filter{}); err != nil {
		t.Fatalf("second StartCampaign() error = %v", err)
	}
}

func manyLeads(n int) []leads.Lead {
	out := make([]leads.Lead, n)
	for i := range out {
		out[i] = leads.Lead{Phone: fmt.Sprintf("+1555000%04d", i), BusinessName: fmt.Sprintf("Biz %d", i)}
	}
	return out
}

func TestConcurrencyIsBounded(t *testing.T) {
	store := leads.NewInMemoryStore(manyLeads(10)...)
	d := &fakeDialer{hold: make(chan struct{})}
	s := newScheduler(store, d, nil)

	run, err := s.Begin(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := s.Begin(context.Background(), Filter{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Begin() error = %v, want ErrAlreadyRunning", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.dialedCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("dispatch never reached 3 calls")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)
	if got := d.dialedCount(); got != 3 {
		t.Fatalf("dialed = %d while slots are held, want 3", got)
	}
	if snap := run.Snapshot(); snap.Attempted != 3 || snap.Status != StatusRunning {
		t.Fatalf("snapshot = %+v, want 3 attempted and running", snap)
	}

	close(d.hold)
	summary, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if summary.Attempted != 10 || summary.Completed != 10 {
		t.Fatalf("summary = %+v, want 10 attempted and completed", summary)
	}
	if d.maxInflight > 3 {
		t.Fatalf("max in flight = %d, want <= 3", d.maxInflight)
	}
}

func TestOutsideBusinessHoursAbandonsQueue(t *testing.T) {
	store := leads.NewInMemoryStore(manyLeads(2)...)
	d := &fakeDialer{}
	s := newScheduler(store, d, func(st *Settings) {
		st.Hours = Hours{Start: config.Clock{Hour: 9}, End: config.Clock{Hour: 17}, Location: time.UTC}
	})
	s.opts.Now = func() time.Time { return time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC) }

	summary, err := s.StartCampaign(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("StartCampaign() error = %v", err)
	}
	if summary.Status != StatusAborted || summary.AbortReason != AbortOutsideHours || summary.Attempted != 0 {
		t.Fatalf("summary = %+v, want aborted outside hours with nothing attempted", summary)
	}
	if d.dialedCount() != 0 {
		t.Fatalf("dialed = %d, want 0", d.dialedCount())
	}
}

func TestCampaignDeadline(t *testing.T) {
	store := leads.NewInMemoryStore(manyLeads(5)...)
	d := &fakeDialer{hold: make(chan struct{})}
	defer close(d.hold)
	s := newScheduler(store, d, func(st *Settings) {
		st.MaxConcurrentCalls = 1
		st.MaxCampaignDuration = 50 * time.Millisecond
	})

	summary, err := s.StartCampaign(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("StartCampaign() error = %v", err)
	}
	if summary.AbortReason != AbortDeadline || summary.Attempted != 1 {
		t.Fatalf("summary = %+v, want deadline_exceeded after 1 attempt", summary)
	}

	// The first run's call is still live and keeps the only slot.
	next, err := s.StartCampaign(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("second StartCampaign() error = %v", err)
	}
	if next.Attempted != 0 || next.AbortReason != AbortDeadline {
		t.Fatalf("second summary = %+v, want no attempts while the slot is held", next)
	}
	if got := d.dialedCount(); got != 1 {
		t.Fatalf("dialed = %d, want 1 across both runs", got)
	}
}

func TestStopCampaign(t *testing.T) {
	store := leads.NewInMemoryStore(manyLeads(6)...)
	d := &fakeDialer{hold: make(chan struct{})}
	s := newScheduler(store, d, func(st *Settings) { st.MaxConcurrentCalls = 2 })

	if got := s.StopCampaign(context.Background()); got.Status != StatusNotRunning {
		t.Fatalf("StopCampaign(idle) = %+v, want not_running", got)
	}

	run, err := s.Begin(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for d.dialedCount() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(d.hold)
	}()
	if got := s.StopCampaign(context.Background()); got.Status != StatusStopped {
		t.Fatalf("StopCampaign() = %+v, want stopped", got)
	}
	summary, _ := run.Wait(context.Background())
	if summary.Status != StatusStopped || summary.Attempted != 2 {
		t.Fatalf("summary = %+v, want stopped after 2 attempts", summary)
	}
}

func TestRetryFailedCalls(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	recent := leads.Lead{Phone: "+15550000001", BusinessName: "Recent"}
	old := leads.Lead{Phone: "+15550000002", BusinessName: "Old"}
	flaky := leads.Lead{Phone: "+15550000003", BusinessName: "Flaky"}
	reached := leads.Lead{Phone: "+15550000004", BusinessName: "Reached"}
	store := leads.NewInMemoryStore(recent, old, flaky, reached)
	failed := leads.Outcome{CallStatus: leads.CallFailed}
	for _, r := range []leads.Result{
		{Lead: recent, Outcome: failed, CallDate: now.Add(-2 * time.Hour)},
		{Lead: old, Outcome: failed, CallDate: now.Add(-48 * time.Hour)},
		{Lead: flaky, Outcome: failed, CallDate: now.Add(-3 * time.Hour)},
		{Lead: flaky, Outcome: failed, CallDate: now.Add(-2 * time.Hour)},
		{Lead: flaky, Outcome: failed, CallDate: now.Add(-time.Hour)},
		{Lead: reached, Outcome: leads.Outcome{CallStatus: leads.CallAnswered, InterestLevel: leads.InterestMedium}, CallDate: now.Add(-time.Hour)},
	} {
		if err := store.AppendResult(ctx, r); err != nil {
			t.Fatalf("AppendResult() error = %v", err)
		}
	}

	d := &fakeDialer{}
	s := newScheduler(store, d, nil)
	summary, err := s.RetryFailedCalls(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("RetryFailedCalls() error = %v", err)
	}
	if summary.Kind != KindRetry || summary.Queued != 1 || summary.Attempted != 1 {
		t.Fatalf("summary = %+v, want exactly one retried lead", summary)
	}
	if len(d.dialed) != 1 || d.dialed[0].Phone != recent.Phone || d.dialed[0].Status != leads.StatusRetry {
		t.Fatalf("dialed = %+v, want only the recent failed lead with retry status", d.dialed)
	}

	disabled := newScheduler(store, d, func(st *Settings) { st.RetryEnabled = false })
	if _, err := disabled.RetryFailedCalls(ctx, time.Hour); !errors.Is(err, ErrRetryDisabled) {
		t.Fatalf("RetryFailedCalls(disabled) error = %v, want ErrRetryDisabled", err)
	}
}

func TestScheduleCampaign(t *testing.T) {
	store := leads.NewInMemoryStore(manyLeads(1)...)
	d := &fakeDialer{}
	s := newScheduler(store, d, nil)

	if _, err := s.ScheduleCampaign(time.Now().Add(-time.Minute), Filter{}); !errors.Is(err, ErrScheduleInPast) {
		t.Fatalf("ScheduleCampaign(past) error = %v, want ErrScheduleInPast", err)
	}
	if _, err := s.ScheduleCampaign(time.Now().Add(time.Hour), Filter{}); err != nil {
		t.Fatalf("ScheduleCampaign() error = %v", err)
	}
	if _, err := s.ScheduleCampaign(time.Now().Add(time.Hour), Filter{}); !errors.Is(err, ErrAlreadyScheduled) {
		t.Fatalf("second ScheduleCampaign() error = %v, want ErrAlreadyScheduled", err)
	}
	if !s.CancelSchedule() || s.CancelSchedule() {
		t.Fatalf("CancelSchedule() should succeed exactly once")
	}

	if _, err := s.ScheduleCampaign(time.Now().Add(20*time.Millisecond), Filter{}); err != nil {
		t.Fatalf("ScheduleCampaign() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		report, err := s.Status(context.Background())
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if report.Last != nil && report.Schedule == nil {
			if report.Last.Attempted != 1 {
				t.Fatalf("last run = %+v, want 1 attempt", report.Last)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduled campaign never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
