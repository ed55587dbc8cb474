package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
)

// Bridge frame types exchanged with an external realtime speech agent.
const (
	bridgeStart      = "start"
	bridgeAudio      = "audio"
	bridgeSay        = "say"
	bridgeReady      = "ready"
	bridgeTranscript = "transcript"
	bridgeInterrupt  = "interrupt"
	bridgeError      = "error"
	bridgeStop       = "stop"
)

type bridgeFrame struct {
	Type         string `json:"type"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Payload      string `json:"payload,omitempty"`
	Text         string `json:"text,omitempty"`
	Speaker      string `json:"speaker,omitempty"`
	Message      string `json:"message,omitempty"`
}

// BridgePipeline relays call audio to a speech agent over a websocket. The
// agent owns recognition, the language model and synthesis.
type BridgePipeline struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewBridgePipeline(url string, logger *zap.Logger) *BridgePipeline {
	return &BridgePipeline{url: url, dialer: websocket.DefaultDialer, logger: logging.OrNop(logger)}
}

func (p *BridgePipeline) Start(ctx context.Context, transport Transport, systemPrompt string) (Conversation, error) {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial voice bridge: %w", err)
	}
	c := &bridgeConversation{
		conn:      conn,
		transport: transport,
		logger:    p.logger,
		events:    make(chan Event, 128),
		done:      make(chan struct{}),
	}
	if err := c.write(bridgeFrame{Type: bridgeStart, SystemPrompt: systemPrompt}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start voice bridge: %w", err)
	}
	go c.readLoop()
	go c.pumpAudio()
	return c, nil
}

type bridgeConversation struct {
	conn      *websocket.Conn
	transport Transport
	logger    *zap.Logger
	writeMu   sync.Mutex

	mu     sync.Mutex
	events chan Event
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

func (c *bridgeConversation) Events() <-chan Event { return c.events }

func (c *bridgeConversation) write(frame bridgeFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *bridgeConversation) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *bridgeConversation) Say(_ context.Context, text string) error {
	select {
	case <-c.done:
		return ErrConversationClosed
	default:
	}
	return c.write(bridgeFrame{Type: bridgeSay, Text: text})
}

func (c *bridgeConversation) pumpAudio() {
	if c.transport == nil {
		return
	}
	for {
		select {
		case <-c.done:
			return
		case payload, ok := <-c.transport.Inbound():
			if !ok {
				_ = c.write(bridgeFrame{Type: bridgeStop})
				c.emit(Event{Type: EventTransportDisconnected})
				return
			}
			if err := c.write(bridgeFrame{Type: bridgeAudio, Payload: payload}); err != nil {
				c.emit(Event{Type: EventTransportError, Err: fmt.Errorf("forward audio: %w", err)})
				return
			}
		}
	}
}

func (c *bridgeConversation) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.emit(Event{Type: EventTransportError, Err: fmt.Errorf("voice bridge read: %w", err)})
			}
			return
		}
		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug("dropping malformed bridge frame", zap.Error(err))
			continue
		}
		switch frame.Type {
		case bridgeReady:
			c.emit(Event{Type: EventTransportConnected})
		case bridgeTranscript:
			speaker := SpeakerCustomer
			if frame.Speaker == SpeakerAgent {
				speaker = SpeakerAgent
			}
			c.emit(Event{Type: EventUtterance, Speaker: speaker, Text: frame.Text})
		case bridgeAudio:
			if c.transport != nil {
				if err := c.transport.SendAudio(context.Background(), frame.Payload); err != nil {
					c.logger.Debug("send audio to caller failed", zap.Error(err))
				}
			}
		case bridgeInterrupt:
			if c.transport != nil {
				_ = c.transport.Clear(context.Background())
			}
		case bridgeError:
			c.emit(Event{Type: EventTransportError, Err: fmt.Errorf("voice bridge: %s", frame.Message)})
		}
	}
}

func (c *bridgeConversation) Cancel() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.write(bridgeFrame{Type: bridgeStop})
		_ = c.conn.Close()
		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()
	})
}
