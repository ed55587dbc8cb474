package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/callflow"
	"github.com/Gireeshbd/ai-sales-agent/internal/session"
	"github.com/Gireeshbd/ai-sales-agent/internal/telephony"
)

// handleAnswer always answers with well-formed markup. Unknown calls get the
// spoken fallback from the call service.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	token := strings.TrimSpace(r.Form.Get("token"))
	callSID := strings.TrimSpace(r.Form.Get("CallSid"))

	w.Header().Set("Content-Type", telephony.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.calls.AnswerMarkup(token, callSID))
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.ObserveWebhook("stream", "upgrade_failed")
		return
	}
	defer conn.Close()

	err = s.calls.RunMediaStream(s.baseCtx, conn)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrCorrelationMiss), errors.Is(err, callflow.ErrStreamClosedBeforeStart):
		s.logger.Warn("media stream rejected", zap.Error(err))
	default:
		s.logger.Error("media stream failed", zap.Error(err))
	}
}

// handleStatusCallback acknowledges every well-formed callback so the provider
// does not retry events for calls this process no longer knows.
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	cb, err := telephony.ParseStatusCallback(r)
	if err != nil {
		s.metrics.ObserveWebhook("status", "invalid")
		respondError(w, http.StatusBadRequest, "invalid_callback", err.Error())
		return
	}
	status := "ok"
	if err := s.calls.HandleStatus(cb); err != nil {
		status = "ignored"
		s.logger.Warn("status callback dropped",
			zap.String("call_sid", cb.CallSID),
			zap.String("call_status", cb.CallStatus),
			zap.Error(err),
		)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": status})
}
