package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// EventType classifies what a running conversation reports.
type EventType string

const (
	EventTransportConnected    EventType = "transport_connected"
	EventTransportDisconnected EventType = "transport_disconnected"
	EventTransportError        EventType = "transport_error"
	EventUtterance             EventType = "utterance"
)

const (
	SpeakerCustomer = "customer"
	SpeakerAgent    = "agent"
)

// Event is emitted by a Conversation in order. Utterances carry Speaker and
// Text; transport errors carry Err.
type Event struct {
	Type    EventType
	Speaker string
	Text    string
	Err     error
}

var ErrConversationClosed = errors.New("conversation closed")

// Transport is the media path to the caller. Audio is base64 8kHz mu-law, the
// telephony media stream encoding.
type Transport interface {
	// Inbound yields caller audio frames and is closed when the stream stops.
	Inbound() <-chan string
	SendAudio(ctx context.Context, payload string) error
	// Clear drops audio already queued toward the caller.
	Clear(ctx context.Context) error
}

// Conversation is one running speech pipeline attached to a call.
type Conversation interface {
	Events() <-chan Event
	// Say enqueues a line for the agent to speak.
	Say(ctx context.Context, text string) error
	Cancel()
}

// Pipeline starts conversations. Start must not block on the caller speaking.
type Pipeline interface {
	Start(ctx context.Context, transport Transport, systemPrompt string) (Conversation, error)
}

const (
	ModeAuto   = "auto"
	ModeBridge = "bridge"
	ModeMock   = "mock"
)

// NewPipeline picks a pipeline by mode. Auto uses the bridge when an endpoint
// is configured and the local mock otherwise.
func NewPipeline(mode, bridgeURL string, logger *zap.Logger) (Pipeline, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	bridgeURL = strings.TrimSpace(bridgeURL)
	switch mode {
	case "", ModeAuto:
		if bridgeURL != "" {
			return NewBridgePipeline(bridgeURL, logger), nil
		}
		return NewMockPipeline(MockOptions{}), nil
	case ModeBridge:
		if bridgeURL == "" {
			return nil, fmt.Errorf("voice pipeline %q needs VOICE_PIPELINE_URL", mode)
		}
		return NewBridgePipeline(bridgeURL, logger), nil
	case ModeMock:
		return NewMockPipeline(MockOptions{}), nil
	default:
		return nil, fmt.Errorf("unknown voice pipeline %q", mode)
	}
}
