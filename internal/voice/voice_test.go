package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Gireeshbd/ai-sales-agent/internal/audio"
)

type chanTransport struct {
	in chan string

	mu      sync.Mutex
	sent    []string
	cleared int
}

func newChanTransport() *chanTransport {
	return &chanTransport{in: make(chan string, 64)}
}

func (t *chanTransport) Inbound() <-chan string { return t.in }

func (t *chanTransport) SendAudio(_ context.Context, payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, payload)
	return nil
}

func (t *chanTransport) Clear(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleared++
	return nil
}

func (t *chanTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestMockPipelineConversation(t *testing.T) {
	tr := newChanTransport()
	p := NewMockPipeline(MockOptions{FramesPerUtterance: 2, Replies: []string{"yes tuesday works"}})
	conv, err := p.Start(context.Background(), tr, "prompt")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer conv.Cancel()

	if ev := nextEvent(t, conv.Events()); ev.Type != EventTransportConnected {
		t.Fatalf("first event = %+v, want transport_connected", ev)
	}
	if err := conv.Say(context.Background(), "Hi there"); err != nil {
		t.Fatalf("Say() error = %v", err)
	}
	if ev := nextEvent(t, conv.Events()); ev.Type != EventUtterance || ev.Speaker != SpeakerAgent || ev.Text != "Hi there" {
		t.Fatalf("event = %+v, want agent utterance", ev)
	}
	if tr.sentCount() != 1 {
		t.Fatalf("sent audio frames = %d, want 1", tr.sentCount())
	}
	tr.mu.Lock()
	played, err := base64.StdEncoding.DecodeString(tr.sent[0])
	tr.mu.Unlock()
	if err != nil {
		t.Fatalf("decode sent audio: %v", err)
	}
	if got := audio.Duration(len(played)); got != 800*time.Millisecond {
		t.Fatalf("played %v of audio, want 800ms for two words", got)
	}

	silence := base64.StdEncoding.EncodeToString(audio.Silence(20 * time.Millisecond))
	tr.in <- silence
	tr.in <- "AAAA"
	tr.in <- silence
	tr.in <- "BBBB"
	if ev := nextEvent(t, conv.Events()); ev.Speaker != SpeakerCustomer || ev.Text != "yes tuesday works" {
		t.Fatalf("event = %+v, want scripted customer reply", ev)
	}
	close(tr.in)
	if ev := nextEvent(t, conv.Events()); ev.Type != EventTransportDisconnected {
		t.Fatalf("event = %+v, want transport_disconnected", ev)
	}
}

func TestMockPipelineCancelIsIdempotent(t *testing.T) {
	conv, err := NewMockPipeline(MockOptions{ConnectDelay: -1}).Start(context.Background(), newChanTransport(), "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conv.Cancel()
	conv.Cancel()
	if _, ok := <-conv.Events(); ok {
		t.Fatalf("events should be closed after Cancel")
	}
	if err := conv.Say(context.Background(), "late"); err != ErrConversationClosed {
		t.Fatalf("Say() after Cancel error = %v, want ErrConversationClosed", err)
	}
}

func TestBridgePipelineRelaysFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan bridgeFrame, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(bridgeFrame{Type: bridgeReady})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f bridgeFrame
			_ = json.Unmarshal(data, &f)
			received <- f
			switch f.Type {
			case bridgeSay:
				_ = conn.WriteJSON(bridgeFrame{Type: bridgeTranscript, Speaker: SpeakerAgent, Text: f.Text})
				_ = conn.WriteJSON(bridgeFrame{Type: bridgeAudio, Payload: "c3BlZWNo"})
			case bridgeAudio:
				_ = conn.WriteJSON(bridgeFrame{Type: bridgeTranscript, Speaker: SpeakerCustomer, Text: "who is this"})
			}
		}
	}))
	defer srv.Close()

	tr := newChanTransport()
	p := NewBridgePipeline("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	conv, err := p.Start(context.Background(), tr, "be brief")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer conv.Cancel()

	if f := <-received; f.Type != bridgeStart || f.SystemPrompt != "be brief" {
		t.Fatalf("first frame = %+v, want start with prompt", f)
	}
	if ev := nextEvent(t, conv.Events()); ev.Type != EventTransportConnected {
		t.Fatalf("event = %+v, want transport_connected", ev)
	}
	if err := conv.Say(context.Background(), "Hello"); err != nil {
		t.Fatalf("Say() error = %v", err)
	}
	if ev := nextEvent(t, conv.Events()); ev.Speaker != SpeakerAgent || ev.Text != "Hello" {
		t.Fatalf("event = %+v, want agent transcript", ev)
	}
	tr.in <- "AAAA"
	if ev := nextEvent(t, conv.Events()); ev.Speaker != SpeakerCustomer || ev.Text != "who is this" {
		t.Fatalf("event = %+v, want customer transcript", ev)
	}
	deadline := time.Now().Add(2 * time.Second)
	for tr.sentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("bridge audio never reached the transport")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewPipelineModes(t *testing.T) {
	if p, err := NewPipeline("auto", "", nil); err != nil {
		t.Fatalf("NewPipeline(auto) error = %v", err)
	} else if _, ok := p.(*MockPipeline); !ok {
		t.Fatalf("NewPipeline(auto, no url) = %T, want *MockPipeline", p)
	}
	if p, err := NewPipeline("auto", "ws://localhost:9/agent", nil); err != nil {
		t.Fatalf("NewPipeline(auto, url) error = %v", err)
	} else if _, ok := p.(*BridgePipeline); !ok {
		t.Fatalf("NewPipeline(auto, url) = %T, want *BridgePipeline", p)
	}
	if _, err := NewPipeline("bridge", "", nil); err == nil {
		t.Fatalf("NewPipeline(bridge, no url) expected error")
	}
	if _, err := NewPipeline("elevenlabs", "", nil); err == nil {
		t.Fatalf("NewPipeline(unknown) expected error")
	}
}
