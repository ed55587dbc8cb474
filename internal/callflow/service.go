package callflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/campaign"
	"github.com/Gireeshbd/ai-sales-agent/internal/dialer"
	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/lifecycle"
	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
	"github.com/Gireeshbd/ai-sales-agent/internal/recorder"
	"github.com/Gireeshbd/ai-sales-agent/internal/sales"
	"github.com/Gireeshbd/ai-sales-agent/internal/session"
	"github.com/Gireeshbd/ai-sales-agent/internal/telephony"
	"github.com/Gireeshbd/ai-sales-agent/internal/voice"
)

// Placer places a call for a registered-to-be session.
type Placer interface {
	PlaceCall(ctx context.Context, sess *session.CallSession) (string, error)
}

type Options struct {
	Store      leads.Store
	Correlator *session.Correlator
	Placer     Placer
	Pipeline   voice.Pipeline
	Analyzer   sales.Analyzer
	Prompts    sales.Prompts

	WebhookBaseURL string
	StartSafeguard time.Duration
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	ReleaseGrace   time.Duration
	RetryEnabled   bool

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Service runs every call from dial to recorded outcome.
type Service struct {
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	calls map[string]*session.CallSession
}

func NewService(opts Options) *Service {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 300 * time.Second
	}
	return &Service{
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		calls:  make(map[string]*session.CallSession),
	}
}

// Call is a handle on one dialed call.
type Call struct {
	sess *session.CallSession
}

func (c *Call) Token() string { return c.sess.Token }

// Done is closed once the outcome has been written.
func (c *Call) Done() <-chan struct{} { return c.sess.Tracker.Done() }

func (c *Call) Outcome() (leads.Outcome, bool) { return c.sess.Recorder.Outcome() }

func (c *Call) Abort(reason string) { c.sess.Tracker.End(reason) }

func (c *Call) Session() *session.CallSession { return c.sess }

// Dial starts a call to lead. A failed dial is recorded before Dial returns;
// the returned Call is then already done and the error says why.
func (s *Service) Dial(ctx context.Context, lead leads.Lead) (*Call, error) {
	sess := s.newSession(lead)
	call := &Call{sess: sess}
	logger := s.logger.With(zap.String("token", sess.Token), zap.String("business", lead.DisplayName()))

	s.track(sess)
	if lead.Phone != "" {
		if err := s.opts.Store.UpdateStatus(ctx, lead.Phone, leads.StatusInProgress); err != nil {
			logger.Warn("mark lead in progress failed", zap.Error(err))
		}
	}

	sid, err := s.opts.Placer.PlaceCall(ctx, sess)
	if err != nil {
		reason := lifecycle.ReasonDialFailed
		if errors.Is(err, dialer.ErrNoPhoneNumber) {
			reason = recorder.ReasonNoPhoneNumber
		}
		logger.Warn("dial failed", zap.String("reason", reason), zap.Error(err))
		if _, recErr := sess.Recorder.RecordFailure(ctx, reason, err.Error()); recErr != nil {
			logger.Error("record dial failure", zap.Error(recErr))
		}
		sess.Tracker.End(lifecycle.ReasonDialFailed)
		return call, err
	}

	sess.Recorder.SetCallSID(sid)
	sess.Tracker.DialAccepted()
	go s.enforceCallTimeout(sess)
	return call, nil
}

// CampaignDialer exposes Dial to the campaign scheduler.
func (s *Service) CampaignDialer() campaign.Dialer {
	return campaignDialer{s: s}
}

type campaignDialer struct {
	s *Service
}

func (d campaignDialer) Dial(ctx context.Context, lead leads.Lead) (campaign.Call, error) {
	call, err := d.s.Dial(ctx, lead)
	if call == nil {
		return nil, err
	}
	return call, err
}

func (s *Service) newSession(lead leads.Lead) *session.CallSession {
	sess := session.NewCallSession(uuid.NewString(), lead)
	logger := s.logger.With(zap.String("token", sess.Token))
	sess.Recorder = recorder.New(lead, sess.Token, recorder.Options{
		Store:        s.opts.Store,
		Analyzer:     s.opts.Analyzer,
		RetryEnabled: s.opts.RetryEnabled,
		Logger:       s.opts.Logger,
		Metrics:      s.opts.Metrics,
	})
	sess.Tracker = lifecycle.NewTracker(lifecycle.Options{
		StartSafeguard: s.opts.StartSafeguard,
		ConnectTimeout: s.opts.ConnectTimeout,
		Logger:         logger,
		Metrics:        s.opts.Metrics,
		OnLive: func(lifecycle.Trigger) {
			sess.Recorder.MarkStarted()
		},
		OnEnd: func(reason string, genuine bool) {
			s.finish(sess, reason, genuine)
		},
	})
	return sess
}

func (s *Service) finish(sess *session.CallSession, reason string, genuine bool) {
	if _, err := sess.Recorder.Finalize(context.Background(), reason, genuine); err != nil {
		s.logger.Error("record call outcome", zap.String("token", sess.Token), zap.Error(err))
	}
	s.opts.Correlator.ReleaseAfter(sess.Token, s.opts.ReleaseGrace)
	s.untrack(sess)
}

func (s *Service) enforceCallTimeout(sess *session.CallSession) {
	timer := time.NewTimer(s.opts.CallTimeout)
	defer timer.Stop()
	select {
	case <-sess.Tracker.Done():
	case <-timer.C:
		sess.Tracker.End(lifecycle.ReasonCallTimeout)
	}
}

func (s *Service) track(sess *session.CallSession) {
	s.mu.Lock()
	s.calls[sess.Token] = sess
	n := len(s.calls)
	s.mu.Unlock()
	s.opts.Metrics.SetActiveCalls(n)
}

func (s *Service) untrack(sess *session.CallSession) {
	s.mu.Lock()
	delete(s.calls, sess.Token)
	n := len(s.calls)
	s.mu.Unlock()
	s.opts.Metrics.SetActiveCalls(n)
}

// ActiveCalls is the number of calls that have not ended yet.
func (s *Service) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Shutdown ends every active call and waits for their outcomes until ctx is
// done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	active := make([]*session.CallSession, 0, len(s.calls))
	for _, sess := range s.calls {
		active = append(active, sess)
	}
	s.mu.Unlock()

	for _, sess := range active {
		sess.Tracker.End(lifecycle.ReasonShutdown)
	}
	for _, sess := range active {
		select {
		case <-sess.Tracker.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

const fallbackMessage = "We're sorry, we are unable to connect your call right now. Goodbye."

// AnswerMarkup renders the answer webhook response. It never fails: unknown
// calls and rendering errors produce a spoken apology and hang up.
func (s *Service) AnswerMarkup(token, callSID string) []byte {
	sess, _, err := s.opts.Correlator.Resolve(session.Identifiers{Token: token, CallID: callSID})
	if err != nil {
		s.opts.Metrics.ObserveWebhook("twiml", "miss")
		return telephony.FallbackMarkup(fallbackMessage)
	}
	if callSID != "" {
		if err := s.opts.Correlator.BindCallID(sess.Token, callSID); err != nil {
			s.logger.Warn("bind call sid from answer webhook", zap.String("token", sess.Token), zap.Error(err))
		}
	}
	params := map[string]string{"token": sess.Token}
	if id := sess.CallID(); id != "" {
		params["call_sid"] = id
	}
	markup, err := telephony.AnswerMarkup(s.StreamURL(), params)
	if err != nil {
		s.logger.Error("render answer markup", zap.Error(err))
		s.opts.Metrics.ObserveWebhook("twiml", "error")
		return telephony.FallbackMarkup(fallbackMessage)
	}
	s.opts.Metrics.ObserveWebhook("twiml", "ok")
	return markup
}

// StreamURL is the websocket address the provider streams call audio to.
func (s *Service) StreamURL() string {
	base := strings.TrimRight(s.opts.WebhookBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/twilio/stream"
}

// HandleStatus applies a provider status callback. Terminal statuses end the
// call.
func (s *Service) HandleStatus(cb telephony.StatusCallback) error {
	sess, match, err := s.opts.Correlator.Resolve(session.Identifiers{
		Token:    cb.Token,
		CallID:   cb.CallSID,
		StreamID: cb.StreamSID,
	})
	if err != nil {
		s.opts.Metrics.ObserveWebhook("status", "miss")
		return err
	}
	if match == session.MatchToken && cb.CallSID != "" {
		if err := s.opts.Correlator.BindCallID(sess.Token, cb.CallSID); err != nil {
			s.logger.Warn("bind call sid from status failed", zap.String("call_sid", cb.CallSID), zap.Error(err))
		}
	}
	sess.SetProviderStatus(cb.CallStatus)
	s.opts.Metrics.ObserveWebhook("status", string(match))
	s.logger.Debug("call status",
		zap.String("token", sess.Token),
		zap.String("call_sid", cb.CallSID),
		zap.String("status", cb.CallStatus),
	)
	if telephony.IsTerminalStatus(cb.CallStatus) {
		sess.Tracker.End(lifecycle.ProviderReason(cb.CallStatus))
	}
	return nil
}
