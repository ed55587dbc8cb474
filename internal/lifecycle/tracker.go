package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
)

// State is the lifecycle position of one call.
type State string

const (
	StateDialing    State = "dialing"
	StateConnecting State = "connecting"
	StateLive       State = "live"
	StateEnded      State = "ended"
)

// Trigger is an event that may move a connecting call forward.
type Trigger string

const (
	TriggerConnected Trigger = "transport_connected"
	TriggerSafeguard Trigger = "start_safeguard"
	TriggerTimeout   Trigger = "connection_timeout"
)

// Termination reasons.
const (
	ReasonHangup            = "hangup"
	ReasonStreamStopped     = "stream_stopped"
	ReasonConnectionTimeout = "connection_timeout"
	ReasonTransportError    = "transport_error"
	ReasonPipelineError     = "pipeline_error"
	ReasonDialFailed        = "dial_failed"
	ReasonCallTimeout       = "call_timeout"
	ReasonCancelled         = "cancelled"
	ReasonShutdown          = "shutdown"
)

// ProviderReason is the termination reason for a terminal provider status.
func ProviderReason(status string) string {
	return "provider_" + status
}

var (
	ErrEnded           = errors.New("call already ended")
	ErrAlreadyAttached = errors.New("conversation already attached")
)

// Conversation is the part of a running voice pipeline the tracker drives.
type Conversation interface {
	Say(ctx context.Context, text string) error
	Cancel()
}

// Options configures a Tracker. Zero StartSafeguard disables the safeguard.
type Options struct {
	StartSafeguard time.Duration
	ConnectTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *observability.Metrics

	// OnLive runs once, outside the lock, when the call goes live.
	OnLive func(trigger Trigger)
	// OnEnd runs exactly once, outside the lock, before Done is closed.
	OnEnd func(reason string, genuine bool)
}

// Tracker is the state machine of one call. Every transition goes through a
// single mutex so the racing start triggers produce exactly one live
// transition and at most one opening line.
type Tracker struct {
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	reason      string
	started     bool
	reachedLive bool
	conv        Conversation
	opening     string
	safeguard   *time.Timer
	timeout     *time.Timer
	createdAt   time.Time
	attachedAt  time.Time
	liveAt      time.Time
	endedAt     time.Time

	done chan struct{}
}

func NewTracker(opts Options) *Tracker {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	return &Tracker{
		opts:      opts,
		logger:    logging.OrNop(opts.Logger),
		state:     StateDialing,
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

// DialAccepted records that the provider accepted the call.
func (t *Tracker) DialAccepted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateDialing {
		return false
	}
	t.state = StateConnecting
	t.opts.Metrics.ObserveCallEvent(string(StateConnecting), "dial_accepted")
	return true
}

// Attach hands the tracker a running conversation and arms the start
// safeguard and connection timeout.
func (t *Tracker) Attach(conv Conversation, openingLine string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.state == StateEnded:
		return ErrEnded
	case t.conv != nil:
		return ErrAlreadyAttached
	}
	t.state = StateConnecting
	t.conv = conv
	t.opening = openingLine
	t.attachedAt = time.Now()
	if d := t.opts.StartSafeguard; d > 0 {
		t.safeguard = time.AfterFunc(d, func() { t.fire(TriggerSafeguard) })
	}
	t.timeout = time.AfterFunc(t.opts.ConnectTimeout, func() { t.fire(TriggerTimeout) })
	return nil
}

// Connected reports that the media transport is up.
func (t *Tracker) Connected() bool {
	return t.fire(TriggerConnected)
}

func (t *Tracker) fire(trigger Trigger) bool {
	t.mu.Lock()
	if t.state != StateConnecting || t.conv == nil {
		t.mu.Unlock()
		return false
	}
	if trigger == TriggerTimeout {
		ended := t.endLocked(ReasonConnectionTimeout)
		t.mu.Unlock()
		t.opts.Metrics.ObserveStartTrigger(string(trigger), 0)
		t.finishEnd(ended)
		return true
	}

	t.state = StateLive
	t.reachedLive = true
	t.liveAt = time.Now()
	t.stopTimersLocked()
	speak := !t.started
	t.started = true
	conv, opening := t.conv, t.opening
	latency := t.liveAt.Sub(t.attachedAt)
	t.mu.Unlock()

	t.opts.Metrics.ObserveStartTrigger(string(trigger), latency)
	t.opts.Metrics.ObserveCallEvent(string(StateLive), string(trigger))
	t.logger.Info("conversation started",
		zap.String("trigger", string(trigger)),
		zap.Duration("latency", latency),
	)

	if speak && opening != "" {
		if err := conv.Say(context.Background(), opening); err != nil {
			t.logger.Warn("opening line failed", zap.Error(err))
			t.End(ReasonPipelineError)
			return true
		}
	}
	if t.opts.OnLive != nil {
		t.opts.OnLive(trigger)
	}
	return true
}

// End terminates the call from any non-ended state. Only the first call has
// any effect; it returns whether this call performed the transition.
func (t *Tracker) End(reason string) bool {
	t.mu.Lock()
	if t.state == StateEnded {
		t.mu.Unlock()
		return false
	}
	ended := t.endLocked(reason)
	t.mu.Unlock()
	t.finishEnd(ended)
	return true
}

// ending carries what the end hooks need once the lock is released.
type ending struct {
	from    State
	reason  string
	genuine bool
	conv    Conversation
}

// endLocked moves a non-ended call to StateEnded. The caller holds t.mu and
// must call finishEnd after unlocking.
func (t *Tracker) endLocked(reason string) ending {
	e := ending{from: t.state, reason: reason, conv: t.conv}
	t.state = StateEnded
	t.reason = reason
	t.endedAt = time.Now()
	t.stopTimersLocked()
	e.genuine = t.genuineLocked()
	return e
}

func (t *Tracker) finishEnd(e ending) {
	if e.conv != nil {
		e.conv.Cancel()
	}
	t.opts.Metrics.ObserveCallEvent(string(StateEnded), e.reason)
	t.logger.Info("call ended",
		zap.String("from", string(e.from)),
		zap.String("reason", e.reason),
		zap.Bool("genuine", e.genuine),
	)
	if t.opts.OnEnd != nil {
		t.opts.OnEnd(e.reason, e.genuine)
	}
	close(t.done)
}

func (t *Tracker) stopTimersLocked() {
	if t.safeguard != nil {
		t.safeguard.Stop()
		t.safeguard = nil
	}
	if t.timeout != nil {
		t.timeout.Stop()
		t.timeout = nil
	}
}

func (t *Tracker) genuineLocked() bool {
	if !t.reachedLive {
		return false
	}
	return t.reason != ReasonTransportError && t.reason != ReasonPipelineError
}

// Done is closed after the call ended and OnEnd returned.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Genuine reports whether an ended call held a real conversation.
func (t *Tracker) Genuine() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateEnded && t.genuineLocked()
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LiveAt    time.Time `json:"live_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		State:     t.state,
		Reason:    t.reason,
		CreatedAt: t.createdAt,
		LiveAt:    t.liveAt,
		EndedAt:   t.endedAt,
	}
}
