package voice

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/Gireeshbd/ai-sales-agent/internal/audio"
)

// speakingTime approximates how long a line takes to say at about 150
// words per minute.
func speakingTime(text string) time.Duration {
	d := time.Duration(len(strings.Fields(text))) * 400 * time.Millisecond
	return min(max(d, 200*time.Millisecond), 5*time.Second)
}

// MockOptions tunes the local fallback pipeline.
type MockOptions struct {
	// ConnectDelay postpones transport_connected. Negative never connects.
	ConnectDelay time.Duration
	// FramesPerUtterance inbound frames produce one customer utterance.
	FramesPerUtterance int
	// VoiceThreshold is the mean amplitude a caller frame needs to count
	// toward an utterance. Zero selects audio.DefaultVoiceThreshold.
	VoiceThreshold float64
	// Replies are spoken by the simulated customer in order; once exhausted
	// the customer says "simulated voice input".
	Replies []string
}

// MockPipeline is a local fallback used when no speech backend is configured.
// It plays agent lines as μ-law silence of matching length and turns voiced
// caller audio into canned replies.
type MockPipeline struct {
	opts MockOptions
}

func NewMockPipeline(opts MockOptions) *MockPipeline {
	if opts.FramesPerUtterance <= 0 {
		opts.FramesPerUtterance = 8
	}
	return &MockPipeline{opts: opts}
}

func (p *MockPipeline) Start(ctx context.Context, transport Transport, _ string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &mockConversation{
		transport: transport,
		events:    make(chan Event, 128),
		done:      make(chan struct{}),
		replies:   append([]string(nil), p.opts.Replies...),
	}
	if p.opts.ConnectDelay >= 0 {
		c.connectTimer = time.AfterFunc(p.opts.ConnectDelay, func() {
			c.emit(Event{Type: EventTransportConnected})
		})
	}
	go c.listen(p.opts.FramesPerUtterance, p.opts.VoiceThreshold)
	return c, nil
}

type mockConversation struct {
	transport    Transport
	connectTimer *time.Timer

	mu      sync.Mutex
	events  chan Event
	closed  bool
	replies []string

	done      chan struct{}
	closeOnce sync.Once
}

func (c *mockConversation) Events() <-chan Event { return c.events }

func (c *mockConversation) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *mockConversation) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConversationClosed
	}
	if c.transport != nil {
		payload := base64.StdEncoding.EncodeToString(audio.Silence(speakingTime(text)))
		if err := c.transport.SendAudio(ctx, payload); err != nil {
			return err
		}
	}
	c.emit(Event{Type: EventUtterance, Speaker: SpeakerAgent, Text: text})
	return nil
}

func (c *mockConversation) listen(framesPerUtterance int, threshold float64) {
	if c.transport == nil {
		return
	}
	frames := 0
	for {
		select {
		case <-c.done:
			return
		case payload, ok := <-c.transport.Inbound():
			if !ok {
				c.emit(Event{Type: EventTransportDisconnected})
				return
			}
			frame, err := base64.StdEncoding.DecodeString(payload)
			if err != nil || !audio.IsVoiced(frame, threshold) {
				continue
			}
			frames++
			if frames%framesPerUtterance == 0 {
				c.emit(Event{Type: EventUtterance, Speaker: SpeakerCustomer, Text: c.nextReply()})
			}
		}
	}
}

func (c *mockConversation) nextReply() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return "simulated voice input"
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r
}

func (c *mockConversation) Cancel() {
	c.closeOnce.Do(func() {
		if c.connectTimer != nil {
			c.connectTimer.Stop()
		}
		close(c.done)
		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()
	})
}
