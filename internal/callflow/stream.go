package callflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/lifecycle"
	"github.com/Gireeshbd/ai-sales-agent/internal/protocol"
	"github.com/Gireeshbd/ai-sales-agent/internal/recorder"
	"github.com/Gireeshbd/ai-sales-agent/internal/session"
	"github.com/Gireeshbd/ai-sales-agent/internal/voice"
)

// MediaSocket is the provider's media stream connection. *websocket.Conn
// satisfies it.
type MediaSocket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

var ErrStreamClosedBeforeStart = errors.New("media stream closed before start")

// RunMediaStream serves one provider media stream until the call ends.
func (s *Service) RunMediaStream(ctx context.Context, sock MediaSocket) error {
	defer sock.Close()

	start, err := awaitStart(sock)
	if err != nil {
		return err
	}
	streamSID := start.EffectiveStreamSID()
	sess, match, err := s.opts.Correlator.Resolve(session.Identifiers{
		Token:    start.Param("token"),
		CallID:   start.Start.CallSID,
		StreamID: streamSID,
	})
	if err != nil {
		s.opts.Metrics.ObserveWebhook("stream", "miss")
		return err
	}
	s.opts.Metrics.ObserveWebhook("stream", string(match))
	logger := s.logger.With(zap.String("token", sess.Token), zap.String("stream_sid", streamSID))

	if err := s.opts.Correlator.BindStreamID(sess.Token, streamSID); err != nil {
		logger.Warn("bind stream sid", zap.Error(err))
	}
	if id := start.Start.CallSID; id != "" {
		if err := s.opts.Correlator.BindCallID(sess.Token, id); err != nil && !errors.Is(err, session.ErrIdentifierConflict) {
			logger.Warn("bind call sid from stream", zap.Error(err))
		}
	}

	transport := newStreamTransport(sock, streamSID)
	defer transport.closeInbound()

	lead := sess.Lead
	conv, err := s.opts.Pipeline.Start(ctx, transport, s.opts.Prompts.FullSystemPrompt(lead))
	if err != nil {
		logger.Warn("voice pipeline failed to start", zap.Error(err))
		sess.Tracker.End(lifecycle.ReasonPipelineError)
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := sess.Tracker.Attach(conv, s.opts.Prompts.OpeningLine(lead)); err != nil {
		conv.Cancel()
		return fmt.Errorf("attach conversation: %w", err)
	}

	go s.consumeEvents(sess, conv)
	go func() {
		// Unblock the read loop once the call is over.
		select {
		case <-sess.Tracker.Done():
		case <-ctx.Done():
			sess.Tracker.End(lifecycle.ReasonShutdown)
		}
		_ = sock.Close()
	}()

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			sess.Tracker.End(lifecycle.ReasonTransportError)
			return nil
		}
		msg, err := protocol.ParseStreamMessage(raw)
		if err != nil {
			logger.Debug("ignoring stream frame", zap.Error(err))
			continue
		}
		switch m := msg.(type) {
		case protocol.Media:
			transport.push(m.Media.Payload)
		case protocol.Stop:
			sess.Tracker.End(lifecycle.ReasonStreamStopped)
			return nil
		case protocol.DTMF:
			logger.Debug("dtmf", zap.String("digit", m.DTMF.Digit))
		}
	}
}

func awaitStart(sock MediaSocket) (protocol.Start, error) {
	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return protocol.Start{}, fmt.Errorf("%w: %v", ErrStreamClosedBeforeStart, err)
		}
		msg, err := protocol.ParseStreamMessage(raw)
		if err != nil {
			if errors.Is(err, protocol.ErrInvalidMessage) {
				return protocol.Start{}, err
			}
			continue
		}
		if start, ok := msg.(protocol.Start); ok {
			return start, nil
		}
	}
}

func (s *Service) consumeEvents(sess *session.CallSession, conv voice.Conversation) {
	for ev := range conv.Events() {
		switch ev.Type {
		case voice.EventTransportConnected:
			sess.Tracker.Connected()
		case voice.EventUtterance:
			speaker := recorder.SpeakerCustomer
			if ev.Speaker == voice.SpeakerAgent {
				speaker = recorder.SpeakerAgent
			}
			sess.Recorder.Append(speaker, ev.Text)
		case voice.EventTransportDisconnected:
			sess.Tracker.End(lifecycle.ReasonHangup)
		case voice.EventTransportError:
			s.logger.Warn("voice transport error", zap.String("token", sess.Token), zap.Error(ev.Err))
			sess.Tracker.End(lifecycle.ReasonTransportError)
		}
	}
}

// streamTransport adapts the provider media socket to voice.Transport.
type streamTransport struct {
	sock      MediaSocket
	streamSID string
	writeMu   sync.Mutex

	inbound   chan string
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newStreamTransport(sock MediaSocket, streamSID string) *streamTransport {
	return &streamTransport{sock: sock, streamSID: streamSID, inbound: make(chan string, 256)}
}

func (t *streamTransport) Inbound() <-chan string { return t.inbound }

// push drops frames when the pipeline falls behind rather than stalling the
// socket reader.
func (t *streamTransport) push(payload string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.inbound <- payload:
	default:
	}
}

func (t *streamTransport) closeInbound() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.inbound)
		t.mu.Unlock()
	})
}

func (t *streamTransport) SendAudio(_ context.Context, payload string) error {
	return t.write(protocol.NewMedia(t.streamSID, payload))
}

func (t *streamTransport) Clear(context.Context) error {
	return t.write(protocol.NewClear(t.streamSID))
}

func (t *streamTransport) write(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.sock.WriteJSON(v)
}
