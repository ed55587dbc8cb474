package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
	"github.com/Gireeshbd/ai-sales-agent/internal/policy"
	"github.com/Gireeshbd/ai-sales-agent/internal/reliability"
	"github.com/Gireeshbd/ai-sales-agent/internal/session"
	"github.com/Gireeshbd/ai-sales-agent/internal/telephony"
)

var ErrNoPhoneNumber = errors.New("lead has no phone number")

// RejectedError reports that the provider refused to create the call.
type RejectedError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("call rejected: http %d: code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("call rejected: http %d: %s", e.StatusCode, e.Message)
}

// CallCreator creates outbound calls at the telephony provider.
type CallCreator interface {
	CreateCall(ctx context.Context, req telephony.CallRequest) (telephony.Call, error)
}

type Options struct {
	Client         CallCreator
	Correlator     *session.Correlator
	From           string
	WebhookBaseURL string
	CallTimeout    time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// Dialer places outbound calls and makes them resolvable before the provider
// can call back.
type Dialer struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options) *Dialer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 300 * time.Second
	}
	opts.WebhookBaseURL = strings.TrimRight(opts.WebhookBaseURL, "/")
	return &Dialer{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// NormalizePhone strips formatting and ensures a leading "+".
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

// AnswerURL is the webhook the provider fetches when the callee picks up.
func (d *Dialer) AnswerURL(token string, lead leads.Lead) (string, error) {
	data, err := json.Marshal(lead)
	if err != nil {
		return "", fmt.Errorf("encode lead data: %w", err)
	}
	q := url.Values{}
	q.Set("token", token)
	q.Set("lead_data", string(data))
	return d.opts.WebhookBaseURL + "/twilio/twiml?" + q.Encode(), nil
}

// StatusURL is the status callback address. It carries the token so that
// callbacks arriving before the call SID is bound still resolve.
func (d *Dialer) StatusURL(token string) string {
	q := url.Values{}
	q.Set("token", token)
	return d.opts.WebhookBaseURL + "/twilio/status?" + q.Encode()
}

// PlaceCall dials the session's lead. The session is registered under its
// token before the request is sent and released again if the provider
// refuses. Only 429 responses are retried.
func (d *Dialer) PlaceCall(ctx context.Context, sess *session.CallSession) (string, error) {
	to := NormalizePhone(sess.Lead.Phone)
	if to == "" {
		d.opts.Metrics.ObserveDial("no_phone")
		return "", ErrNoPhoneNumber
	}
	answerURL, err := d.AnswerURL(sess.Token, sess.Lead)
	if err != nil {
		return "", err
	}
	if err := d.opts.Correlator.Register(sess); err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}

	req := telephony.CallRequest{
		To:             to,
		From:           d.opts.From,
		AnswerURL:      answerURL,
		StatusCallback: d.StatusURL(sess.Token),
		RingTimeout:    d.opts.CallTimeout / 2,
	}
	logger := d.logger.With(zap.String("token", sess.Token), zap.String("to", policy.MaskPhone(to)))

	for attempt := 0; ; attempt++ {
		started := time.Now()
		call, err := d.opts.Client.CreateCall(ctx, req)
		d.opts.Metrics.ObserveStage(observability.StageDial, time.Since(started))
		if err == nil {
			if bindErr := d.opts.Correlator.BindCallID(sess.Token, call.SID); bindErr != nil {
				logger.Warn("bind call sid failed", zap.String("call_sid", call.SID), zap.Error(bindErr))
			}
			d.opts.Metrics.ObserveDial("accepted")
			logger.Info("call placed", zap.String("call_sid", call.SID), zap.Int("attempt", attempt+1))
			return call.SID, nil
		}

		var apiErr *telephony.APIError
		if errors.As(err, &apiErr) && reliability.IsRetryableDialStatus(apiErr.StatusCode) && attempt+1 < d.opts.MaxAttempts {
			wait := reliability.ExponentialBackoff(attempt, d.opts.BackoffBase, d.opts.BackoffCap)
			d.opts.Metrics.ObserveDial("throttled")
			logger.Warn("call creation throttled, retrying", zap.Duration("wait", wait), zap.Int("attempt", attempt+1))
			if sleepErr := reliability.Sleep(ctx, wait); sleepErr == nil {
				continue
			}
		}

		d.opts.Correlator.Release(sess.Token)
		if apiErr != nil {
			d.opts.Metrics.ObserveDial("rejected")
			logger.Warn("call rejected", zap.Int("status", apiErr.StatusCode), zap.String("message", apiErr.Message))
			return "", &RejectedError{StatusCode: apiErr.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
		}
		d.opts.Metrics.ObserveDial("error")
		logger.Warn("call creation failed", zap.Error(err))
		return "", fmt.Errorf("create call: %w", err)
	}
}
