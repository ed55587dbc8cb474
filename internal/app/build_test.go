package app

import (
	"context"
	"errors"
	"testing"

	"github.com/Gireeshbd/ai-sales-agent/internal/config"
	"github.com/Gireeshbd/ai-sales-agent/internal/sales"
	"github.com/Gireeshbd/ai-sales-agent/internal/voice"
)

func TestBuildRequiresCredentials(t *testing.T) {
	_, err := Build(context.Background(), config.Defaults(), nil)
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Build() error = %v, want ConfigurationError", err)
	}
	if len(cfgErr.Missing) != 3 {
		t.Fatalf("Missing = %v, want all three Twilio settings", cfgErr.Missing)
	}
}

func TestBuildWiresInMemoryStack(t *testing.T) {
	cfg := config.Defaults()
	cfg.TwilioAccountSID = "AC123"
	cfg.TwilioAuthToken = "secret"
	cfg.TwilioFromNumber = "+15550000000"
	cfg.LeadsStoreURL = "memory://"
	cfg.VoicePipeline = "mock"
	cfg.MetricsNamespace = "test_app_build"

	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if res.Voice.Pipeline != voice.ModeMock || res.Voice.Analyzer != "keywords" {
		t.Fatalf("Voice = %+v, want mock pipeline with keyword analysis", res.Voice)
	}
	if res.API == nil || res.Campaigns == nil || res.Calls == nil {
		t.Fatalf("Build() left components unset: %+v", res)
	}
	report, err := res.Campaigns.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if report.Settings.MaxConcurrentCalls != cfg.MaxConcurrentCalls || report.BusinessHours == "" {
		t.Fatalf("Status() = %+v", report)
	}
}

func TestResolveVoiceBridgeNeedsURL(t *testing.T) {
	cfg := config.Defaults()
	cfg.VoicePipeline = "bridge"
	if _, err := resolveVoice(context.Background(), cfg, nil); err == nil {
		t.Fatalf("resolveVoice(bridge without url) expected error")
	}

	cfg.VoicePipelineURL = "ws://127.0.0.1:9000/bridge"
	setup, err := resolveVoice(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("resolveVoice(bridge) error = %v", err)
	}
	if setup.info.Pipeline != voice.ModeBridge {
		t.Fatalf("Pipeline = %q, want bridge", setup.info.Pipeline)
	}
	if _, ok := setup.analyzer.(sales.KeywordAnalyzer); !ok {
		t.Fatalf("analyzer = %T, want KeywordAnalyzer", setup.analyzer)
	}
}
