package telephony

import (
	"errors"
	"net/http"
	"strings"
)

// Provider call statuses reported on the status callback.
const (
	StatusQueued     = "queued"
	StatusInitiated  = "initiated"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

var ErrMissingCallSID = errors.New("status callback without CallSid")

// StatusCallback is the subset of the status callback form the service uses.
type StatusCallback struct {
	CallSID        string
	CallStatus     string
	StreamSID      string
	Token          string
	Duration       string
	SequenceNumber string
}

// ParseStatusCallback reads a form-encoded status callback. The token query
// parameter is accepted when the status URL carries one.
func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	cb := StatusCallback{
		CallSID:        strings.TrimSpace(r.Form.Get("CallSid")),
		CallStatus:     strings.ToLower(strings.TrimSpace(r.Form.Get("CallStatus"))),
		StreamSID:      strings.TrimSpace(r.Form.Get("StreamSid")),
		Token:          strings.TrimSpace(r.Form.Get("token")),
		Duration:       strings.TrimSpace(r.Form.Get("CallDuration")),
		SequenceNumber: strings.TrimSpace(r.Form.Get("SequenceNumber")),
	}
	if cb.CallSID == "" {
		return cb, ErrMissingCallSID
	}
	return cb, nil
}

// IsTerminalStatus reports whether the provider will send no further
// progress for the call.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsUnansweredStatus reports terminal statuses where nobody picked up.
func IsUnansweredStatus(status string) bool {
	switch status {
	case StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}
