package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the sales call campaign service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	LogLevel  string
	LogFormat string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioAPIBaseURL string
	WebhookBaseURL   string

	MaxConcurrentCalls  int
	CallTimeout         time.Duration
	RetryFailedCalls    bool
	MaxRetries          int
	CallHoursStart      Clock
	CallHoursEnd        Clock
	CallHoursTZ         string
	MaxCampaignDuration time.Duration
	StopGrace           time.Duration

	StartSafeguard      time.Duration
	ConnectTimeout      time.Duration
	SessionReleaseGrace time.Duration

	LeadsStoreURL string

	VoicePipeline    string
	VoicePipelineURL string

	GoogleAPIKey string
	GeminiModel  string

	AgentName   string
	CompanyName string
}

// Load reads the optional CONFIG_FILE and then environment variables, which
// take precedence over the file.
func Load() (Config, error) {
	return LoadFrom(stringsTrimSpace("CONFIG_FILE"))
}

// LoadFrom is Load with an explicit file path. An empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Defaults()
	if path = strings.TrimSpace(path); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		BindAddr:            ":7860",
		ShutdownTimeout:     15 * time.Second,
		MetricsNamespace:    "salesagent",
		LogLevel:            "info",
		LogFormat:           "auto",
		TwilioAPIBaseURL:    "https://api.twilio.com",
		WebhookBaseURL:      "http://localhost:7860",
		MaxConcurrentCalls:  3,
		CallTimeout:         300 * time.Second,
		RetryFailedCalls:    true,
		MaxRetries:          2,
		CallHoursStart:      Clock{Hour: 9},
		CallHoursEnd:        Clock{Hour: 17},
		MaxCampaignDuration: time.Hour,
		StopGrace:           30 * time.Second,
		StartSafeguard:      2 * time.Second,
		ConnectTimeout:      15 * time.Second,
		SessionReleaseGrace: 30 * time.Second,
		LeadsStoreURL:       "csv://data",
		VoicePipeline:       "auto",
		GeminiModel:         "gemini-2.0-flash",
		AgentName:           "Alex",
		CompanyName:         "VoiceAI Solutions",
	}
}

func applyEnv(cfg *Config) error {
	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.TwilioAccountSID = envOrTrimmed("TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID)
	cfg.TwilioAuthToken = envOrTrimmed("TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken)
	cfg.TwilioFromNumber = envOrTrimmed("TWILIO_FROM_NUMBER", cfg.TwilioFromNumber)
	cfg.TwilioAPIBaseURL = envOrDefault("TWILIO_API_BASE_URL", cfg.TwilioAPIBaseURL)
	cfg.WebhookBaseURL = strings.TrimRight(envOrDefault("WEBHOOK_BASE_URL", cfg.WebhookBaseURL), "/")
	cfg.CallHoursTZ = envOrDefault("CALL_HOURS_TZ", cfg.CallHoursTZ)
	cfg.LeadsStoreURL = envOrDefault("LEADS_STORE_URL", cfg.LeadsStoreURL)
	cfg.VoicePipeline = envOrDefault("VOICE_PIPELINE", cfg.VoicePipeline)
	cfg.VoicePipelineURL = envOrTrimmed("VOICE_PIPELINE_URL", cfg.VoicePipelineURL)
	cfg.GoogleAPIKey = envOrTrimmed("GOOGLE_API_KEY", cfg.GoogleAPIKey)
	cfg.GeminiModel = envOrDefault("GEMINI_MODEL", cfg.GeminiModel)
	cfg.AgentName = envOrDefault("AGENT_NAME", cfg.AgentName)
	cfg.CompanyName = envOrDefault("COMPANY_NAME", cfg.CompanyName)

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return err
	}
	if cfg.MaxConcurrentCalls, err = intFromEnv("MAX_CONCURRENT_CALLS", cfg.MaxConcurrentCalls); err != nil {
		return err
	}
	seconds, err := intFromEnv("CALL_TIMEOUT_SECONDS", int(cfg.CallTimeout/time.Second))
	if err != nil {
		return err
	}
	cfg.CallTimeout = time.Duration(seconds) * time.Second
	if cfg.RetryFailedCalls, err = boolFromEnv("RETRY_FAILED_CALLS", cfg.RetryFailedCalls); err != nil {
		return err
	}
	if cfg.MaxRetries, err = intFromEnv("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return err
	}
	if cfg.CallHoursStart, err = clockFromEnv("CALL_HOURS_START", cfg.CallHoursStart); err != nil {
		return err
	}
	if cfg.CallHoursEnd, err = clockFromEnv("CALL_HOURS_END", cfg.CallHoursEnd); err != nil {
		return err
	}
	if cfg.MaxCampaignDuration, err = durationFromEnv("MAX_CAMPAIGN_DURATION", cfg.MaxCampaignDuration); err != nil {
		return err
	}
	if cfg.StopGrace, err = durationFromEnv("STOP_GRACE", cfg.StopGrace); err != nil {
		return err
	}
	if cfg.StartSafeguard, err = durationFromEnv("START_SAFEGUARD", cfg.StartSafeguard); err != nil {
		return err
	}
	if cfg.ConnectTimeout, err = durationFromEnv("CONNECT_TIMEOUT", cfg.ConnectTimeout); err != nil {
		return err
	}
	if cfg.SessionReleaseGrace, err = durationFromEnv("SESSION_RELEASE_GRACE", cfg.SessionReleaseGrace); err != nil {
		return err
	}
	return nil
}

// check validates tuning knobs. Credentials are checked separately by
// Validate so store-only CLI commands can run without them.
func (c Config) check() error {
	if c.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_CALLS must be positive")
	}
	if c.CallTimeout < 2*time.Second {
		return fmt.Errorf("CALL_TIMEOUT_SECONDS must be at least 2")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0")
	}
	if c.MaxCampaignDuration <= 0 {
		return fmt.Errorf("MAX_CAMPAIGN_DURATION must be positive")
	}
	if c.StartSafeguard < 0 {
		return fmt.Errorf("START_SAFEGUARD must be >= 0")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be positive")
	}
	if c.CallHoursStart == c.CallHoursEnd {
		return fmt.Errorf("CALL_HOURS_START and CALL_HOURS_END must differ")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Validate reports missing provider credentials. The server refuses to start
// when it fails.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.TwilioAccountSID) == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if strings.TrimSpace(c.TwilioAuthToken) == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if strings.TrimSpace(c.TwilioFromNumber) == "" {
		missing = append(missing, "TWILIO_FROM_NUMBER")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Location resolves CallHoursTZ; empty means the process local zone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.CallHoursTZ)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("CALL_HOURS_TZ parse error: %w", err)
	}
	return loc, nil
}

// RingTimeout is the provider ring timeout: half the per-call timeout.
func (c Config) RingTimeout() time.Duration {
	return c.CallTimeout / 2
}

// ConfigurationError reports required settings that are absent.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock accepts HH:MM or HH:MM:SS.
func ParseClock(v string) (Clock, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return Clock{}, fmt.Errorf("invalid clock %q (expected HH:MM)", v)
}

// Seconds returns the offset of the clock from midnight.
func (c Clock) Seconds() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

func (c Clock) String() string {
	if c.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
	}
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envOrTrimmed(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func clockFromEnv(key string, fallback Clock) (Clock, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	c, err := ParseClock(v)
	if err != nil {
		return Clock{}, fmt.Errorf("%s parse error: %w", key, err)
	}
	return c, nil
}
