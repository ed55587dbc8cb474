package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/callflow"
	"github.com/Gireeshbd/ai-sales-agent/internal/campaign"
	"github.com/Gireeshbd/ai-sales-agent/internal/config"
	"github.com/Gireeshbd/ai-sales-agent/internal/dialer"
	"github.com/Gireeshbd/ai-sales-agent/internal/httpapi"
	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
	"github.com/Gireeshbd/ai-sales-agent/internal/sales"
	"github.com/Gireeshbd/ai-sales-agent/internal/session"
	"github.com/Gireeshbd/ai-sales-agent/internal/telephony"
)

// orphanTTL bounds how long a session nobody released may stay indexed.
const orphanTTL = 2 * time.Hour

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Store      leads.Store
	Correlator *session.Correlator
	Calls      *callflow.Service
	Campaigns  *campaign.Scheduler
	Metrics    *observability.Metrics
	Voice      VoiceInfo

	// Cleanup should be called on shutdown to release the lead store.
	Cleanup func() error
}

// Build wires the service. baseCtx bounds media streams and the analyzer
// client; cancelling it is part of shutdown.
func Build(baseCtx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	logger = logging.OrNop(logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := leads.NewStore(baseCtx, cfg.LeadsStoreURL)
	if err != nil {
		return nil, fmt.Errorf("lead store init failed: %w", err)
	}

	voiceSetup, err := resolveVoice(baseCtx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	correlator := session.NewCorrelator(session.Options{
		Logger:    logger.Named("correlator"),
		Metrics:   metrics,
		OrphanTTL: orphanTTL,
	})

	placer := dialer.New(dialer.Options{
		Client:         telephony.NewClient(cfg.TwilioAPIBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken),
		Correlator:     correlator,
		From:           cfg.TwilioFromNumber,
		WebhookBaseURL: cfg.WebhookBaseURL,
		CallTimeout:    cfg.CallTimeout,
		Logger:         logger.Named("dialer"),
		Metrics:        metrics,
	})

	calls := callflow.NewService(callflow.Options{
		Store:          store,
		Correlator:     correlator,
		Placer:         placer,
		Pipeline:       voiceSetup.pipeline,
		Analyzer:       voiceSetup.analyzer,
		Prompts:        sales.Prompts{AgentName: cfg.AgentName, CompanyName: cfg.CompanyName},
		WebhookBaseURL: cfg.WebhookBaseURL,
		StartSafeguard: cfg.StartSafeguard,
		ConnectTimeout: cfg.ConnectTimeout,
		CallTimeout:    cfg.CallTimeout,
		ReleaseGrace:   cfg.SessionReleaseGrace,
		RetryEnabled:   cfg.RetryFailedCalls,
		Logger:         logger.Named("calls"),
		Metrics:        metrics,
	})

	campaigns := campaign.NewScheduler(campaign.Options{
		Store:       store,
		Dialer:      calls.CampaignDialer(),
		Settings:    CampaignSettings(cfg, loc),
		ActiveCalls: calls.ActiveCalls,
		Logger:      logger.Named("campaign"),
		Metrics:     metrics,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Store:       store,
		Correlator:  correlator,
		Calls:       calls,
		Campaigns:   campaigns,
		Metrics:     metrics,
		Logger:      logger.Named("http"),
		BaseContext: baseCtx,
	})

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Store:      store,
		Correlator: correlator,
		Calls:      calls,
		Campaigns:  campaigns,
		Metrics:    metrics,
		Voice:      voiceSetup.info,
		Cleanup:    store.Close,
	}, nil
}

// CampaignSettings maps configuration onto scheduler settings.
func CampaignSettings(cfg config.Config, loc *time.Location) campaign.Settings {
	return campaign.Settings{
		MaxConcurrentCalls:  cfg.MaxConcurrentCalls,
		CallTimeout:         cfg.CallTimeout,
		MaxCampaignDuration: cfg.MaxCampaignDuration,
		StopGrace:           cfg.StopGrace,
		RetryEnabled:        cfg.RetryFailedCalls,
		MaxRetries:          cfg.MaxRetries,
		Hours: campaign.Hours{
			Start:    cfg.CallHoursStart,
			End:      cfg.CallHoursEnd,
			Location: loc,
		},
	}
}
