package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
	"github.com/Gireeshbd/ai-sales-agent/internal/sales"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerCustomer Speaker = "customer"
	SpeakerAgent    Speaker = "agent"
)

// Message is one utterance in arrival order.
type Message struct {
	At      time.Time `json:"at"`
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
}

const defaultAnalysisTimeout = 30 * time.Second

// ReasonNoPhoneNumber tags leads that could not be dialed at all.
const ReasonNoPhoneNumber = "no_phone_number"

// Options configures a Recorder.
type Options struct {
	Store           leads.Store
	Analyzer        sales.Analyzer
	RetryEnabled    bool
	AnalysisTimeout time.Duration
	Logger          *zap.Logger
	Metrics         *observability.Metrics
}

// Recorder accumulates one call's conversation and writes its outcome to the
// store exactly once.
type Recorder struct {
	opts   Options
	logger *zap.Logger
	lead   leads.Lead
	token  string

	mu        sync.Mutex
	callSID   string
	startedAt time.Time
	createdAt time.Time
	messages  []Message

	once      sync.Once
	finalized chan struct{}
	outcome   leads.Outcome
	err       error
}

func New(lead leads.Lead, token string, opts Options) *Recorder {
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = defaultAnalysisTimeout
	}
	return &Recorder{
		opts:      opts,
		logger:    logging.OrNop(opts.Logger).With(zap.String("token", token), zap.String("business", lead.DisplayName())),
		lead:      lead,
		token:     token,
		createdAt: time.Now(),
		finalized: make(chan struct{}),
	}
}

func (r *Recorder) SetCallSID(sid string) {
	r.mu.Lock()
	r.callSID = sid
	r.mu.Unlock()
}

// MarkStarted records the conversation start. Only the first call counts.
func (r *Recorder) MarkStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		r.startedAt = time.Now()
	}
}

// Append adds an utterance. Blank text is ignored, as is anything arriving
// after the outcome was written.
func (r *Recorder) Append(speaker Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	select {
	case <-r.finalized:
		return
	default:
	}
	r.mu.Lock()
	r.messages = append(r.messages, Message{At: time.Now().UTC(), Speaker: speaker, Text: text})
	r.mu.Unlock()
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Transcript flattens the conversation into "Customer:" and "Agent:" lines.
func (r *Recorder) Transcript() string {
	var b strings.Builder
	for i, m := range r.Messages() {
		if i > 0 {
			b.WriteByte('\n')
		}
		if m.Speaker == SpeakerCustomer {
			b.WriteString("Customer: ")
		} else {
			b.WriteString("Agent: ")
		}
		b.WriteString(m.Text)
	}
	return b.String()
}

// Outcome returns the written outcome once Finalize has completed.
func (r *Recorder) Outcome() (leads.Outcome, bool) {
	select {
	case <-r.finalized:
		return r.outcome, true
	default:
		return leads.Outcome{}, false
	}
}

// Finalize classifies the call and writes it to the store. Only the first
// call has any effect; later calls return the first result.
//
// A genuine call with no messages is recorded as no_conversation. A genuine
// call with messages goes to the analyzer and falls back to a degraded
// classification when analysis fails. Anything else is recorded as a failure
// tagged with reason.
func (r *Recorder) Finalize(ctx context.Context, reason string, genuine bool) (leads.Outcome, error) {
	return r.finalize(ctx, func(ctx context.Context) leads.Outcome {
		if !genuine {
			return failureOutcome(reason, "")
		}
		return r.classify(ctx, reason)
	})
}

// RecordFailure writes the failure shape without touching the transcript.
func (r *Recorder) RecordFailure(ctx context.Context, reason, details string) (leads.Outcome, error) {
	return r.finalize(ctx, func(context.Context) leads.Outcome {
		return failureOutcome(reason, details)
	})
}

func (r *Recorder) finalize(ctx context.Context, build func(context.Context) leads.Outcome) (leads.Outcome, error) {
	r.once.Do(func() {
		out := build(ctx)
		r.addMetrics(&out)
		r.outcome = out
		r.err = r.write(ctx, out)
		r.opts.Metrics.ObserveOutcome(out.CallStatus)
		close(r.finalized)
	})
	<-r.finalized
	return r.outcome, r.err
}

func (r *Recorder) classify(ctx context.Context, reason string) leads.Outcome {
	msgs := r.Messages()
	if len(msgs) == 0 {
		return leads.Outcome{
			CallStatus:    leads.CallNoConversation,
			InterestLevel: leads.InterestNone,
			NextAction:    leads.ActionFollowUp,
			Notes:         "No conversation recorded",
			EndReason:     reason,
		}
	}

	var (
		out leads.Outcome
		err = sales.ErrAnalysisUnavailable
	)
	if r.opts.Analyzer != nil {
		actx, cancel := context.WithTimeout(ctx, r.opts.AnalysisTimeout)
		started := time.Now()
		out, err = r.opts.Analyzer.Analyze(actx, r.Transcript(), r.lead)
		cancel()
		r.opts.Metrics.ObserveStage(observability.StageAnalysis, time.Since(started))
	}
	if err != nil {
		r.logger.Warn("call analysis degraded", zap.Error(err))
		return leads.Outcome{
			CallStatus:       leads.CallNoConversation,
			InterestLevel:    leads.InterestUncertain,
			NextAction:       leads.ActionFollowUp,
			Notes:            "Conversation recorded but analysis was unavailable",
			EndReason:        reason,
			AnalysisDegraded: true,
		}
	}
	out.EndReason = reason
	return out
}

func failureOutcome(reason, details string) leads.Outcome {
	return leads.Outcome{
		CallStatus:    leads.CallFailed,
		InterestLevel: leads.InterestNone,
		Objections:    []string{reason},
		NextAction:    leads.ActionRetryLater,
		Notes:         strings.TrimSpace(fmt.Sprintf("Call failed: %s. %s", strings.ReplaceAll(reason, "_", " "), details)),
		FailureReason: reason,
		EndReason:     reason,
	}
}

func (r *Recorder) addMetrics(out *leads.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.startedAt.IsZero() {
		out.DurationSeconds = int(time.Since(r.startedAt) / time.Second)
	}
	out.ConversationLength = len(r.messages)
	out.UserResponses, out.AgentResponses = 0, 0
	for _, m := range r.messages {
		if m.Speaker == SpeakerCustomer {
			out.UserResponses++
		} else {
			out.AgentResponses++
		}
	}
}

func (r *Recorder) write(ctx context.Context, out leads.Outcome) error {
	if r.opts.Store == nil {
		return nil
	}
	// The outcome must land even when the caller's context was cancelled by
	// shutdown or a campaign deadline.
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	result := leads.Result{
		Lead:     r.lead,
		Outcome:  out,
		CallDate: time.Now().UTC(),
		CallSID:  r.callSID,
		Token:    r.token,
	}
	r.mu.Unlock()

	if err := r.opts.Store.AppendResult(ctx, result); err != nil {
		r.logger.Error("append call result failed", zap.Error(err))
		return fmt.Errorf("append result: %w", err)
	}

	status := leads.StatusCalled
	switch {
	case out.ScheduledMeeting:
		status = leads.StatusCompleted
	case out.Failed() && r.opts.RetryEnabled:
		status = leads.StatusRetry
	}
	if r.lead.Phone == "" {
		r.logger.Info("call outcome recorded", zap.String("call_status", out.CallStatus))
		return nil
	}
	if err := r.opts.Store.UpdateStatus(ctx, r.lead.Phone, status); err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			r.logger.Warn("lead missing from store, status not updated", zap.String("status", string(status)))
			return nil
		}
		r.logger.Error("update lead status failed", zap.Error(err))
		return fmt.Errorf("update lead status: %w", err)
	}
	r.logger.Info("call outcome recorded",
		zap.String("call_status", out.CallStatus),
		zap.String("lead_status", string(status)),
		zap.Bool("meeting", out.ScheduledMeeting),
	)
	return nil
}
