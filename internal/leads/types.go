package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the dialing state of a lead.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCalled     Status = "called"
	StatusCompleted  Status = "completed"
	StatusRetry      Status = "retry"
)

var (
	ErrInvalidTransition = errors.New("invalid lead status transition")
	ErrLeadNotFound      = errors.New("lead not found")
	ErrInvalidStatus     = errors.New("invalid lead status")
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusCalled:     2,
	StatusCompleted:  3,
}

// ParseStatus normalizes raw; empty input is pending.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" {
		return StatusPending, nil
	}
	if _, ok := statusRank[s]; ok || s == StatusRetry {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// ValidTransition reports whether a lead may move from one status to another.
// Statuses only move forward through pending, in_progress, called, completed.
// Retry may be entered from any status except completed and leaves only to
// pending or in_progress. Re-asserting the current status is allowed.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if to == StatusRetry {
		return from != StatusCompleted
	}
	if from == StatusRetry {
		return to == StatusPending || to == StatusInProgress
	}
	fr, okFrom := statusRank[from]
	tr, okTo := statusRank[to]
	return okFrom && okTo && tr > fr
}

func checkTransition(phone string, from, to Status) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, phone, from, to)
	}
	return nil
}

// Lead is one prospect to dial. Phone is the natural key.
type Lead struct {
	Phone        string `json:"contact_number"`
	BusinessName string `json:"business_name"`
	ContactName  string `json:"contact_name,omitempty"`
	Category     string `json:"business_type,omitempty"`
	SizeTier     string `json:"company_size,omitempty"`
	Challenges   string `json:"current_challenges,omitempty"`
	BestCallTime string `json:"best_call_time,omitempty"`
	Status       Status `json:"status"`
}

// DisplayName is the business name, or the phone when the name is empty.
func (l Lead) DisplayName() string {
	if name := strings.TrimSpace(l.BusinessName); name != "" {
		return name
	}
	if l.Phone != "" {
		return l.Phone
	}
	return "Unknown"
}

// Call status values of an Outcome.
const (
	CallAnswered       = "answered"
	CallNoAnswer       = "no_answer"
	CallNoConversation = "no_conversation"
	CallFailed         = "failed"
)

// Interest levels.
const (
	InterestHigh      = "high"
	InterestMedium    = "medium"
	InterestLow       = "low"
	InterestUncertain = "uncertain"
	InterestNone      = "none"
)

// Next actions.
const (
	ActionScheduleMeeting = "schedule_meeting"
	ActionFollowUp        = "follow_up"
	ActionArchive         = "archive"
	ActionRetryLater      = "retry_later"
)

// Outcome is the classification of one call.
type Outcome struct {
	CallStatus         string   `json:"call_status"`
	InterestLevel      string   `json:"interest_level"`
	Objections         []string `json:"prospect_objections"`
	ScheduledMeeting   bool     `json:"scheduled_meeting"`
	MeetingTime        string   `json:"meeting_datetime,omitempty"`
	NextAction         string   `json:"next_action"`
	Notes              string   `json:"agent_notes"`
	FailureReason      string   `json:"failure_reason,omitempty"`
	EndReason          string   `json:"end_reason,omitempty"`
	AnalysisDegraded   bool     `json:"analysis_degraded,omitempty"`
	DurationSeconds    int      `json:"call_duration"`
	ConversationLength int      `json:"conversation_length"`
	UserResponses      int      `json:"user_responses"`
	AgentResponses     int      `json:"agent_responses"`
}

// Failed reports whether the outcome describes a call that never produced a
// conversation because of a failure.
func (o Outcome) Failed() bool {
	return o.CallStatus == CallFailed
}

// Result is one appended call record.
type Result struct {
	Lead     Lead      `json:"lead"`
	Outcome  Outcome   `json:"outcome"`
	CallDate time.Time `json:"call_date"`
	CallSID  string    `json:"call_sid,omitempty"`
	Token    string    `json:"token,omitempty"`
}

// Statistics summarizes the store contents.
type Statistics struct {
	TotalLeads        int     `json:"total_leads"`
	CompletedCalls    int     `json:"completed_calls"`
	PendingCalls      int     `json:"pending_calls"`
	AnsweredCalls     int     `json:"answered_calls"`
	ScheduledMeetings int     `json:"scheduled_meetings"`
	HighInterest      int     `json:"high_interest"`
	FailedCalls       int     `json:"failed_calls"`
	ConversionRate    float64 `json:"conversion_rate"`
}

func (s *Statistics) finish() {
	if s.CompletedCalls > 0 {
		s.ConversionRate = float64(s.ScheduledMeetings) / float64(s.CompletedCalls) * 100
	}
}

// Store persists leads and call results.
type Store interface {
	ListPending(ctx context.Context) ([]Lead, error)
	ListLeads(ctx context.Context) ([]Lead, error)
	UpdateStatus(ctx context.Context, phone string, status Status) error
	AppendResult(ctx context.Context, result Result) error
	ListFailedSince(ctx context.Context, since time.Time) ([]Result, error)
	ListResults(ctx context.Context, limit int) ([]Result, error)
	ImportLeads(ctx context.Context, leads []Lead) (int, error)
	Statistics(ctx context.Context) (Statistics, error)
	Close() error
}

// NormalizeLead trims fields and defaults the status.
func NormalizeLead(l Lead) Lead {
	l.Phone = strings.TrimSpace(l.Phone)
	l.BusinessName = strings.TrimSpace(l.BusinessName)
	l.ContactName = strings.TrimSpace(l.ContactName)
	l.Category = strings.TrimSpace(l.Category)
	l.SizeTier = strings.TrimSpace(l.SizeTier)
	l.Challenges = strings.TrimSpace(l.Challenges)
	l.BestCallTime = strings.TrimSpace(l.BestCallTime)
	if l.Status == "" {
		l.Status = StatusPending
	}
	return l
}

func computeStatistics(all []Lead, results []Result) Statistics {
	stats := Statistics{TotalLeads: len(all), CompletedCalls: len(results)}
	for _, l := range all {
		if l.Status == StatusPending {
			stats.PendingCalls++
		}
	}
	for _, r := range results {
		switch r.Outcome.CallStatus {
		case CallAnswered:
			stats.AnsweredCalls++
		case CallFailed:
			stats.FailedCalls++
		}
		if r.Outcome.ScheduledMeeting {
			stats.ScheduledMeetings++
		}
		if r.Outcome.InterestLevel == InterestHigh {
			stats.HighInterest++
		}
	}
	stats.finish()
	return stats
}

func limitResults(results []Result, limit int) []Result {
	if limit <= 0 || limit >= len(results) {
		return results
	}
	return results[len(results)-limit:]
}
