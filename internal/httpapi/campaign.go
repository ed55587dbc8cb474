package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/campaign"
)

const defaultRetryWindow = 24 * time.Hour

func (s *Server) handleCampaignStart(w http.ResponseWriter, r *http.Request) {
	var filter campaign.Filter
	if err := decodeJSON(r, &filter); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	run, err := s.campaigns.Begin(r.Context(), filter)
	s.respondRun(w, r, run, err)
}

func (s *Server) handleCampaignRetry(w http.ResponseWriter, r *http.Request) {
	maxAge := defaultRetryWindow
	if raw := strings.TrimSpace(r.URL.Query().Get("max_age_hours")); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_max_age", "max_age_hours must be a positive number")
			return
		}
		maxAge = time.Duration(hours * float64(time.Hour))
	}
	run, err := s.campaigns.BeginRetry(r.Context(), maxAge)
	s.respondRun(w, r, run, err)
}

// respondRun reports a started run. With wait=true it blocks until the run's
// summary is final; otherwise a still-running run is reported as accepted.
func (s *Server) respondRun(w http.ResponseWriter, r *http.Request, run *campaign.Run, err error) {
	switch {
	case errors.Is(err, campaign.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, "already_running", err.Error())
		return
	case errors.Is(err, campaign.ErrRetryDisabled):
		respondError(w, http.StatusConflict, "retry_disabled", err.Error())
		return
	case err != nil:
		s.logger.Error("campaign did not start", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "campaign_failed", err.Error())
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		summary, err := run.Wait(r.Context())
		if err != nil {
			respondJSON(w, http.StatusAccepted, summary)
			return
		}
		respondJSON(w, http.StatusOK, summary)
		return
	}
	select {
	case <-run.Done():
		respondJSON(w, http.StatusOK, run.Snapshot())
	default:
		respondJSON(w, http.StatusAccepted, run.Snapshot())
	}
}

func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.campaigns.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleCampaignStop(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.campaigns.StopCampaign(r.Context()))
}

type scheduleRequest struct {
	ScheduledTime string `json:"scheduled_time"`
	campaign.Filter
}

func (s *Server) handleCampaignSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledTime))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_scheduled_time", "scheduled_time must be an RFC 3339 timestamp")
		return
	}
	info, err := s.campaigns.ScheduleCampaign(at, req.Filter)
	switch {
	case errors.Is(err, campaign.ErrScheduleInPast):
		respondError(w, http.StatusBadRequest, "schedule_in_past", err.Error())
	case errors.Is(err, campaign.ErrAlreadyScheduled):
		respondError(w, http.StatusConflict, "already_scheduled", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "schedule_failed", err.Error())
	default:
		respondJSON(w, http.StatusCreated, info)
	}
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": s.campaigns.CancelSchedule()})
}
