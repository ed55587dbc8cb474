package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/callflow"
	"github.com/Gireeshbd/ai-sales-agent/internal/campaign"
	"github.com/Gireeshbd/ai-sales-agent/internal/config"
	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
	"github.com/Gireeshbd/ai-sales-agent/internal/session"
)

// Deps are the services the HTTP surface drives.
type Deps struct {
	Store      leads.Store
	Correlator *session.Correlator
	Calls      *callflow.Service
	Campaigns  *campaign.Scheduler
	Metrics    *observability.Metrics
	Logger     *zap.Logger

	// BaseContext outlives individual requests. Media streams run under it
	// so that process shutdown ends them.
	BaseContext context.Context
}

type Server struct {
	cfg        config.Config
	store      leads.Store
	correlator *session.Correlator
	calls      *callflow.Service
	campaigns  *campaign.Scheduler
	metrics    *observability.Metrics
	logger     *zap.Logger
	baseCtx    context.Context
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	baseCtx := deps.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Server{
		cfg:        cfg,
		store:      deps.Store,
		correlator: deps.Correlator,
		calls:      deps.Calls,
		campaigns:  deps.Campaigns,
		metrics:    deps.Metrics,
		logger:     logging.OrNop(deps.Logger),
		baseCtx:    baseCtx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The media stream is opened by the telephony provider, which
				// sends no Origin. Browsers must come from the same host.
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleInfo)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/campaign", func(r chi.Router) {
		r.Post("/start", s.handleCampaignStart)
		r.Get("/status", s.handleCampaignStatus)
		r.Post("/stop", s.handleCampaignStop)
		r.Post("/retry", s.handleCampaignRetry)
		r.Post("/schedule", s.handleCampaignSchedule)
		r.Delete("/schedule", s.handleCancelSchedule)
	})
	r.Get("/calls", s.handleListCalls)
	r.Get("/calls/latency", s.handleCallLatency)

	r.Route("/twilio", func(r chi.Router) {
		r.Post("/twiml", s.handleAnswer)
		r.Get("/twiml", s.handleAnswer)
		r.Get("/stream", s.handleMediaStream)
		r.Post("/status", s.handleStatusCallback)
	})

	r.Get("/leads/pending", s.handlePendingLeads)
	r.Post("/leads/upload", s.handleUploadLeads)
	r.Get("/leads/template", s.handleLeadTemplate)
	r.Get("/results/statistics", s.handleStatistics)
	r.Get("/results/download", s.handleDownloadResults)

	return r
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "AI Sales Agent",
		"status":  "running",
		"agent":   s.cfg.AgentName,
		"company": s.cfg.CompanyName,
		"endpoints": []string{
			"POST /campaign/start",
			"GET /campaign/status",
			"POST /campaign/stop",
			"POST /campaign/retry",
			"POST /campaign/schedule",
			"GET /calls",
			"GET /calls/latency",
			"GET /leads/pending",
			"POST /leads/upload",
			"GET /leads/template",
			"GET /results/statistics",
			"GET /results/download",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_calls":  s.calls.ActiveCalls(),
		"live_sessions": s.correlator.Live(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Statistics(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"active_calls": s.calls.ActiveCalls(),
		"sessions":     s.correlator.Snapshot(),
	})
}

func (s *Server) handleCallLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
