package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies media-stream payload variants.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventDTMF      EventType = "dtmf"
	EventStop      EventType = "stop"
	EventClear     EventType = "clear"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported stream event")
	ErrInvalidMessage   = errors.New("invalid stream message")
)

type Envelope struct {
	Event EventType `json:"event"`
}

type Connected struct {
	Event    EventType `json:"event"`
	Protocol string    `json:"protocol"`
	Version  string    `json:"version"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartDetails struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type Start struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber"`
	StreamSID      string       `json:"streamSid"`
	Start          StartDetails `json:"start"`
}

// Param returns a custom stream parameter.
func (s Start) Param(name string) string {
	return s.Start.CustomParameters[name]
}

// EffectiveStreamSID prefers the top-level streamSid and falls back to the
// one inside the start block.
func (s Start) EffectiveStreamSID() string {
	if s.StreamSID != "" {
		return s.StreamSID
	}
	return s.Start.StreamSID
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Media struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSID      string       `json:"streamSid"`
	Media          MediaPayload `json:"media"`
}

type MarkName struct {
	Name string `json:"name"`
}

type Mark struct {
	Event          EventType `json:"event"`
	SequenceNumber string    `json:"sequenceNumber,omitempty"`
	StreamSID      string    `json:"streamSid"`
	Mark           MarkName  `json:"mark"`
}

type DTMFDigit struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

type DTMF struct {
	Event          EventType `json:"event"`
	SequenceNumber string    `json:"sequenceNumber"`
	StreamSID      string    `json:"streamSid"`
	DTMF           DTMFDigit `json:"dtmf"`
}

type StopDetails struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type Stop struct {
	Event          EventType   `json:"event"`
	SequenceNumber string      `json:"sequenceNumber"`
	StreamSID      string      `json:"streamSid"`
	Stop           StopDetails `json:"stop"`
}

// Clear asks the provider to drop audio queued for playback.
type Clear struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
}

// ParseStreamMessage decodes one inbound media-stream frame into its typed
// variant.
func ParseStreamMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.EffectiveStreamSID() == "" {
			return nil, fmt.Errorf("%w: start without streamSid", ErrInvalidMessage)
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventDTMF:
		var msg DTMF
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

// NewMedia builds an outbound audio frame.
func NewMedia(streamSID, payloadBase64 string) Media {
	return Media{Event: EventMedia, StreamSID: streamSID, Media: MediaPayload{Payload: payloadBase64}}
}

// NewMark builds an outbound playback marker.
func NewMark(streamSID, name string) Mark {
	return Mark{Event: EventMark, StreamSID: streamSID, Mark: MarkName{Name: name}}
}

func NewClear(streamSID string) Clear {
	return Clear{Event: EventClear, StreamSID: streamSID}
}
