package session

import (
	"sync"
	"time"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/lifecycle"
	"github.com/Gireeshbd/ai-sales-agent/internal/recorder"
)

// CallSession is everything known about one outbound call. The call flow owns
// it; the Correlator only indexes it.
type CallSession struct {
	Token     string
	Lead      leads.Lead
	CreatedAt time.Time
	Tracker   *lifecycle.Tracker
	Recorder  *recorder.Recorder

	mu             sync.Mutex
	callID         string
	streamID       string
	providerStatus string
}

func NewCallSession(token string, lead leads.Lead) *CallSession {
	return &CallSession{Token: token, Lead: lead, CreatedAt: time.Now().UTC()}
}

func (s *CallSession) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

func (s *CallSession) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

func (s *CallSession) ProviderStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerStatus
}

func (s *CallSession) SetProviderStatus(status string) {
	s.mu.Lock()
	s.providerStatus = status
	s.mu.Unlock()
}

func (s *CallSession) setCallID(id string) {
	s.mu.Lock()
	s.callID = id
	s.mu.Unlock()
}

func (s *CallSession) setStreamID(id string) {
	s.mu.Lock()
	s.streamID = id
	s.mu.Unlock()
}

// Info is the reporting view of a session.
type Info struct {
	Token          string          `json:"token"`
	CallSID        string          `json:"call_sid,omitempty"`
	StreamSID      string          `json:"stream_sid,omitempty"`
	BusinessName   string          `json:"business_name"`
	Phone          string          `json:"contact_number"`
	ProviderStatus string          `json:"provider_status,omitempty"`
	State          lifecycle.State `json:"state,omitempty"`
	Reason         string          `json:"end_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (s *CallSession) Info() Info {
	s.mu.Lock()
	info := Info{
		Token:          s.Token,
		CallSID:        s.callID,
		StreamSID:      s.streamID,
		BusinessName:   s.Lead.BusinessName,
		Phone:          s.Lead.Phone,
		ProviderStatus: s.providerStatus,
		CreatedAt:      s.CreatedAt,
	}
	s.mu.Unlock()
	if s.Tracker != nil {
		snap := s.Tracker.Snapshot()
		info.State = snap.State
		info.Reason = snap.Reason
	}
	return info
}
