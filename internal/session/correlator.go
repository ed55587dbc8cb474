package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
)

var (
	ErrTokenInUse         = errors.New("session token already registered")
	ErrUnknownSession     = errors.New("no live session for identifier")
	ErrIdentifierConflict = errors.New("identifier bound to a different session")
	ErrCorrelationMiss    = errors.New("no session matches any supplied identifier")
	ErrEmptyIdentifier    = errors.New("identifier is empty")
)

// Match names the lookup layer that resolved a session.
type Match string

const (
	MatchCallID   Match = "call_id"
	MatchStreamID Match = "stream_id"
	MatchToken    Match = "token"
	MatchScan     Match = "scan"
	MatchMiss     Match = "miss"
)

// Identifiers are whatever keys an inbound event carried. Any may be empty.
type Identifiers struct {
	Token    string
	CallID   string
	StreamID string
}

func (ids Identifiers) empty() bool {
	return ids.Token == "" && ids.CallID == "" && ids.StreamID == ""
}

type entry struct {
	mu        sync.Mutex
	sess      *CallSession
	released  bool
	expiresAt time.Time
}

type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// OrphanTTL evicts sessions that were never scheduled for release. Zero
	// disables it.
	OrphanTTL time.Duration
}

// Correlator maps the token, provider call id and media stream id of each
// live call to its CallSession.
//
// Lock order is entry.mu before Correlator.mu before CallSession.mu. The
// index lock is only held for map operations.
type Correlator struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	orphanTTL time.Duration

	mu         sync.RWMutex
	byToken    map[string]*entry
	byCallID   map[string]*entry
	byStreamID map[string]*entry
}

func NewCorrelator(opts Options) *Correlator {
	return &Correlator{
		logger:     logging.OrNop(opts.Logger),
		metrics:    opts.Metrics,
		orphanTTL:  opts.OrphanTTL,
		byToken:    make(map[string]*entry),
		byCallID:   make(map[string]*entry),
		byStreamID: make(map[string]*entry),
	}
}

// Register makes sess addressable by its token.
func (c *Correlator) Register(sess *CallSession) error {
	if sess == nil || sess.Token == "" {
		return ErrEmptyIdentifier
	}
	c.mu.Lock()
	if _, ok := c.byToken[sess.Token]; ok {
		c.mu.Unlock()
		return ErrTokenInUse
	}
	c.byToken[sess.Token] = &entry{sess: sess}
	live := len(c.byToken)
	c.mu.Unlock()

	c.metrics.SetLiveSessions(live)
	return nil
}

// lookup finds the entry for a token or an already bound call id.
func (c *Correlator) lookup(key string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.byToken[key]; ok {
		return e
	}
	if e, ok := c.byCallID[key]; ok {
		return e
	}
	return c.byStreamID[key]
}

// BindCallID adds the provider call id of the session known as key.
func (c *Correlator) BindCallID(key, callID string) error {
	return c.bind(key, callID, c.byCallID, (*CallSession).CallID, (*CallSession).setCallID)
}

// BindStreamID adds the media stream id of the session known as key.
func (c *Correlator) BindStreamID(key, streamID string) error {
	return c.bind(key, streamID, c.byStreamID, (*CallSession).StreamID, (*CallSession).setStreamID)
}

func (c *Correlator) bind(key, id string, index map[string]*entry, get func(*CallSession) string, set func(*CallSession, string)) error {
	if key == "" || id == "" {
		return ErrEmptyIdentifier
	}
	e := c.lookup(key)
	if e == nil {
		return ErrUnknownSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrUnknownSession
	}
	switch current := get(e.sess); current {
	case id:
		return nil
	case "":
	default:
		return ErrIdentifierConflict
	}

	c.mu.Lock()
	if other, ok := index[id]; ok && other != e {
		c.mu.Unlock()
		return ErrIdentifierConflict
	}
	index[id] = e
	c.mu.Unlock()

	set(e.sess, id)
	return nil
}

// Resolve finds the session an event belongs to. Exact keys are tried in the
// order call id, stream id, token. When none match, live sessions are scanned
// comparing normalised identifiers; such matches are logged as degraded.
func (c *Correlator) Resolve(ids Identifiers) (*CallSession, Match, error) {
	if ids.empty() {
		c.metrics.ObserveLookup(string(MatchMiss))
		return nil, MatchMiss, ErrEmptyIdentifier
	}

	c.mu.RLock()
	sess, match := c.exactLocked(ids)
	c.mu.RUnlock()
	if sess != nil {
		c.metrics.ObserveLookup(string(match))
		return sess, match, nil
	}

	if sess := c.scan(ids); sess != nil {
		c.metrics.ObserveLookup(string(MatchScan))
		c.logger.Warn("session resolved by degraded scan",
			zap.String("token", ids.Token),
			zap.String("call_sid", ids.CallID),
			zap.String("stream_sid", ids.StreamID),
			zap.String("resolved_token", sess.Token),
		)
		return sess, MatchScan, nil
	}

	c.metrics.ObserveLookup(string(MatchMiss))
	c.logger.Warn("correlation miss",
		zap.String("token", ids.Token),
		zap.String("call_sid", ids.CallID),
		zap.String("stream_sid", ids.StreamID),
	)
	return nil, MatchMiss, ErrCorrelationMiss
}

func (c *Correlator) exactLocked(ids Identifiers) (*CallSession, Match) {
	if ids.CallID != "" {
		if e, ok := c.byCallID[ids.CallID]; ok {
			return e.sess, MatchCallID
		}
	}
	if ids.StreamID != "" {
		if e, ok := c.byStreamID[ids.StreamID]; ok {
			return e.sess, MatchStreamID
		}
	}
	if ids.Token != "" {
		if e, ok := c.byToken[ids.Token]; ok {
			return e.sess, MatchToken
		}
	}
	return nil, ""
}

func (c *Correlator) scan(ids Identifiers) *CallSession {
	want := make([]string, 0, 3)
	for _, raw := range []string{ids.CallID, ids.StreamID, ids.Token} {
		if n := normalizeID(raw); n != "" {
			want = append(want, n)
		}
	}
	if len(want) == 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.byToken {
		have := []string{normalizeID(e.sess.CallID()), normalizeID(e.sess.Token)}
		for _, h := range have {
			if h == "" {
				continue
			}
			for _, w := range want {
				if h == w {
					return e.sess
				}
			}
		}
	}
	return nil
}

// normalizeID drops surrounding quotes and every whitespace rune.
func normalizeID(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), `"'`)
	return strings.Join(strings.Fields(raw), "")
}

// Release removes every index entry of the session known as key. It reports
// whether anything was removed.
func (c *Correlator) Release(key string) bool {
	e := c.lookup(key)
	if e == nil {
		return false
	}
	return c.release(e)
}

func (c *Correlator) release(e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return false
	}
	e.released = true

	c.mu.Lock()
	c.deleteLocked(c.byToken, e.sess.Token, e)
	c.deleteLocked(c.byCallID, e.sess.CallID(), e)
	c.deleteLocked(c.byStreamID, e.sess.StreamID(), e)
	live := len(c.byToken)
	c.mu.Unlock()

	c.metrics.SetLiveSessions(live)
	return true
}

func (c *Correlator) deleteLocked(index map[string]*entry, key string, e *entry) {
	if key == "" {
		return
	}
	if index[key] == e {
		delete(index, key)
	}
}

// ReleaseAfter schedules the session for eviction by the janitor once grace
// has passed. Late webhooks keep resolving until then.
func (c *Correlator) ReleaseAfter(key string, grace time.Duration) bool {
	e := c.lookup(key)
	if e == nil {
		return false
	}
	if grace <= 0 {
		return c.release(e)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return false
	}
	e.expiresAt = time.Now().Add(grace)
	return true
}

func (c *Correlator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(time.Now())
			}
		}
	}()
}

func (c *Correlator) sweep(now time.Time) int {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.byToken))
	for _, e := range c.byToken {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	evicted := 0
	for _, e := range entries {
		e.mu.Lock()
		expires := e.expiresAt
		if expires.IsZero() && c.orphanTTL > 0 {
			expires = e.sess.CreatedAt.Add(c.orphanTTL)
		}
		due := !expires.IsZero() && !now.Before(expires)
		e.mu.Unlock()
		if due && c.release(e) {
			evicted++
		}
	}
	if evicted > 0 {
		c.logger.Debug("evicted call sessions", zap.Int("count", evicted))
	}
	return evicted
}

// Live returns the number of registered sessions.
func (c *Correlator) Live() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byToken)
}

// Snapshot lists registered sessions, oldest first.
func (c *Correlator) Snapshot() []Info {
	c.mu.RLock()
	sessions := make([]*CallSession, 0, len(c.byToken))
	for _, e := range c.byToken {
		sessions = append(sessions, e.sess)
	}
	c.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
