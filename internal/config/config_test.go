package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7860" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":7860")
	}
	if cfg.MaxConcurrentCalls != 3 {
		t.Fatalf("MaxConcurrentCalls = %d, want 3", cfg.MaxConcurrentCalls)
	}
	if cfg.CallTimeout != 300*time.Second {
		t.Fatalf("CallTimeout = %v, want 300s", cfg.CallTimeout)
	}
	if cfg.RingTimeout() != 150*time.Second {
		t.Fatalf("RingTimeout() = %v, want 150s", cfg.RingTimeout())
	}
	if cfg.CallHoursStart != (Clock{Hour: 9}) || cfg.CallHoursEnd != (Clock{Hour: 17}) {
		t.Fatalf("call hours = %v-%v, want 09:00-17:00", cfg.CallHoursStart, cfg.CallHoursEnd)
	}
	if cfg.MaxCampaignDuration != time.Hour {
		t.Fatalf("MaxCampaignDuration = %v, want 1h", cfg.MaxCampaignDuration)
	}
	if !cfg.RetryFailedCalls || cfg.MaxRetries != 2 {
		t.Fatalf("retry settings = %v/%d, want true/2", cfg.RetryFailedCalls, cfg.MaxRetries)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MAX_CONCURRENT_CALLS", "5")
	t.Setenv("CALL_TIMEOUT_SECONDS", "120")
	t.Setenv("CALL_HOURS_START", "08:30")
	t.Setenv("CALL_HOURS_END", "18:15:30")
	t.Setenv("RETRY_FAILED_CALLS", "off")
	t.Setenv("WEBHOOK_BASE_URL", "https://agent.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxConcurrentCalls != 5 {
		t.Fatalf("MaxConcurrentCalls = %d, want 5", cfg.MaxConcurrentCalls)
	}
	if cfg.RingTimeout() != time.Minute {
		t.Fatalf("RingTimeout() = %v, want 1m", cfg.RingTimeout())
	}
	if cfg.CallHoursStart.String() != "08:30" || cfg.CallHoursEnd.String() != "18:15:30" {
		t.Fatalf("call hours = %s-%s", cfg.CallHoursStart, cfg.CallHoursEnd)
	}
	if cfg.RetryFailedCalls {
		t.Fatalf("RetryFailedCalls = true, want false")
	}
	if cfg.WebhookBaseURL != "https://agent.example.com" {
		t.Fatalf("WebhookBaseURL = %q, want trailing slash trimmed", cfg.WebhookBaseURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MAX_CONCURRENT_CALLS":  "0",
		"CALL_HOURS_START":      "nine",
		"MAX_CAMPAIGN_DURATION": "forever",
		"RETRY_FAILED_CALLS":    "maybe",
		"CALL_HOURS_TZ":         "Mars/Olympus",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q expected error", key, value)
			}
		})
	}
}

func TestValidateReportsMissingCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.TwilioAccountSID = "AC123"

	err := cfg.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Validate() error = %v, want ConfigurationError", err)
	}
	if len(cfgErr.Missing) != 2 {
		t.Fatalf("Missing = %v, want auth token and from number", cfgErr.Missing)
	}

	cfg.TwilioAuthToken = "secret"
	cfg.TwilioFromNumber = "+15550000000"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestLoadConfigFileEnvWins(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "salesagent.toml")
	body := `
[twilio]
account_sid = "ACfile"
from_number = "+15551230000"

[campaign]
max_concurrent_calls = 7
call_hours_start = "10:00"
max_duration = "30m"

[lifecycle]
start_safeguard = "1s"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_CONCURRENT_CALLS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TwilioAccountSID != "ACfile" {
		t.Fatalf("TwilioAccountSID = %q, want file value", cfg.TwilioAccountSID)
	}
	if cfg.MaxConcurrentCalls != 4 {
		t.Fatalf("MaxConcurrentCalls = %d, want env value 4", cfg.MaxConcurrentCalls)
	}
	if cfg.CallHoursStart != (Clock{Hour: 10}) {
		t.Fatalf("CallHoursStart = %v, want 10:00", cfg.CallHoursStart)
	}
	if cfg.MaxCampaignDuration != 30*time.Minute {
		t.Fatalf("MaxCampaignDuration = %v, want 30m", cfg.MaxCampaignDuration)
	}
	if cfg.StartSafeguard != time.Second {
		t.Fatalf("StartSafeguard = %v, want 1s", cfg.StartSafeguard)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"TWILIO_ACCOUNT_SID",
		"TWILIO_AUTH_TOKEN",
		"TWILIO_FROM_NUMBER",
		"TWILIO_API_BASE_URL",
		"WEBHOOK_BASE_URL",
		"MAX_CONCURRENT_CALLS",
		"CALL_TIMEOUT_SECONDS",
		"RETRY_FAILED_CALLS",
		"MAX_RETRIES",
		"CALL_HOURS_START",
		"CALL_HOURS_END",
		"CALL_HOURS_TZ",
		"MAX_CAMPAIGN_DURATION",
		"STOP_GRACE",
		"START_SAFEGUARD",
		"CONNECT_TIMEOUT",
		"SESSION_RELEASE_GRACE",
		"LEADS_STORE_URL",
		"VOICE_PIPELINE",
		"VOICE_PIPELINE_URL",
		"GOOGLE_API_KEY",
		"GEMINI_MODEL",
		"AGENT_NAME",
		"COMPANY_NAME",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
