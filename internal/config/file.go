package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the TOML layout accepted through CONFIG_FILE. Every
// field is optional; unset fields keep the default.
type fileConfig struct {
	Server struct {
		BindAddr         string `toml:"bind_addr"`
		ShutdownTimeout  string `toml:"shutdown_timeout"`
		MetricsNamespace string `toml:"metrics_namespace"`
		WebhookBaseURL   string `toml:"webhook_base_url"`
	} `toml:"server"`
	Logging struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"logging"`
	Twilio struct {
		AccountSID string `toml:"account_sid"`
		AuthToken  string `toml:"auth_token"`
		FromNumber string `toml:"from_number"`
		APIBaseURL string `toml:"api_base_url"`
	} `toml:"twilio"`
	Campaign struct {
		MaxConcurrentCalls *int   `toml:"max_concurrent_calls"`
		CallTimeoutSeconds *int   `toml:"call_timeout_seconds"`
		RetryFailedCalls   *bool  `toml:"retry_failed_calls"`
		MaxRetries         *int   `toml:"max_retries"`
		CallHoursStart     string `toml:"call_hours_start"`
		CallHoursEnd       string `toml:"call_hours_end"`
		CallHoursTZ        string `toml:"call_hours_tz"`
		MaxDuration        string `toml:"max_duration"`
		StopGrace          string `toml:"stop_grace"`
	} `toml:"campaign"`
	Lifecycle struct {
		StartSafeguard      string `toml:"start_safeguard"`
		ConnectTimeout      string `toml:"connect_timeout"`
		SessionReleaseGrace string `toml:"session_release_grace"`
	} `toml:"lifecycle"`
	Store struct {
		URL string `toml:"url"`
	} `toml:"store"`
	Voice struct {
		Pipeline    string `toml:"pipeline"`
		PipelineURL string `toml:"pipeline_url"`
		AgentName   string `toml:"agent_name"`
		CompanyName string `toml:"company_name"`
	} `toml:"voice"`
	Analysis struct {
		GoogleAPIKey string `toml:"google_api_key"`
		GeminiModel  string `toml:"gemini_model"`
	} `toml:"analysis"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	setString(&cfg.BindAddr, fc.Server.BindAddr)
	setString(&cfg.MetricsNamespace, fc.Server.MetricsNamespace)
	setString(&cfg.WebhookBaseURL, strings.TrimRight(fc.Server.WebhookBaseURL, "/"))
	setString(&cfg.LogLevel, fc.Logging.Level)
	setString(&cfg.LogFormat, fc.Logging.Format)
	setString(&cfg.TwilioAccountSID, fc.Twilio.AccountSID)
	setString(&cfg.TwilioAuthToken, fc.Twilio.AuthToken)
	setString(&cfg.TwilioFromNumber, fc.Twilio.FromNumber)
	setString(&cfg.TwilioAPIBaseURL, fc.Twilio.APIBaseURL)
	setString(&cfg.CallHoursTZ, fc.Campaign.CallHoursTZ)
	setString(&cfg.LeadsStoreURL, fc.Store.URL)
	setString(&cfg.VoicePipeline, fc.Voice.Pipeline)
	setString(&cfg.VoicePipelineURL, fc.Voice.PipelineURL)
	setString(&cfg.AgentName, fc.Voice.AgentName)
	setString(&cfg.CompanyName, fc.Voice.CompanyName)
	setString(&cfg.GoogleAPIKey, fc.Analysis.GoogleAPIKey)
	setString(&cfg.GeminiModel, fc.Analysis.GeminiModel)

	if v := fc.Campaign.MaxConcurrentCalls; v != nil {
		cfg.MaxConcurrentCalls = *v
	}
	if v := fc.Campaign.CallTimeoutSeconds; v != nil {
		cfg.CallTimeout = time.Duration(*v) * time.Second
	}
	if v := fc.Campaign.RetryFailedCalls; v != nil {
		cfg.RetryFailedCalls = *v
	}
	if v := fc.Campaign.MaxRetries; v != nil {
		cfg.MaxRetries = *v
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.shutdown_timeout", fc.Server.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"campaign.max_duration", fc.Campaign.MaxDuration, &cfg.MaxCampaignDuration},
		{"campaign.stop_grace", fc.Campaign.StopGrace, &cfg.StopGrace},
		{"lifecycle.start_safeguard", fc.Lifecycle.StartSafeguard, &cfg.StartSafeguard},
		{"lifecycle.connect_timeout", fc.Lifecycle.ConnectTimeout, &cfg.ConnectTimeout},
		{"lifecycle.session_release_grace", fc.Lifecycle.SessionReleaseGrace, &cfg.SessionReleaseGrace},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s parse error: %w", d.key, err)
		}
		*d.dst = parsed
	}

	clocks := []struct {
		key string
		raw string
		dst *Clock
	}{
		{"campaign.call_hours_start", fc.Campaign.CallHoursStart, &cfg.CallHoursStart},
		{"campaign.call_hours_end", fc.Campaign.CallHoursEnd, &cfg.CallHoursEnd},
	}
	for _, c := range clocks {
		if strings.TrimSpace(c.raw) == "" {
			continue
		}
		parsed, err := ParseClock(c.raw)
		if err != nil {
			return fmt.Errorf("%s parse error: %w", c.key, err)
		}
		*c.dst = parsed
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
