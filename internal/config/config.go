package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/orderdesk/internal/lineitem"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string
	RateLimit          string
	BodyLimitBytes     int64

	DetailsEndpointURL string
	DetailsQueryKey    string
	DetailsTimeout     time.Duration
	DetailsMaxAttempts int
	DetailsCacheTTL    time.Duration
	RedisURL           string

	DefaultFlow      lineitem.Flow
	SessionIdleTTL   time.Duration
	ConsumablesField string
	AssetsField      string

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64
	EnablePprof      bool
	PprofUser        string
	PprofPass        string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "300-M"),
		BodyLimitBytes:     parseInt64(k.String("BODY_LIMIT_BYTES"), 1<<20),

		DetailsEndpointURL: strings.TrimSpace(k.String("DETAILS_ENDPOINT_URL")),
		DetailsQueryKey:    valueOrDefault(k.String("DETAILS_QUERY_KEY"), "solicitud_ids"),
		DetailsTimeout:     parseDuration(k.String("DETAILS_TIMEOUT"), "5s"),
		DetailsMaxAttempts: int(parseInt64(k.String("DETAILS_MAX_ATTEMPTS"), 3)),
		DetailsCacheTTL:    parseDuration(k.String("DETAILS_CACHE_TTL"), "0s"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),

		SessionIdleTTL:   parseDuration(k.String("SESSION_IDLE_TTL"), "2h"),
		ConsumablesField: valueOrDefault(k.String("FORM_CONSUMABLES_FIELD"), "detalles_articulos"),
		AssetsField:      valueOrDefault(k.String("FORM_ASSETS_FIELD"), "detalles_activos"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "orderdesk"),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "none"),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		EnablePprof:      parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
	}

	flow, err := lineitem.ParseFlow(valueOrDefault(k.String("FORM_FLOW_DEFAULT"), "order"))
	if err != nil {
		return nil, err
	}
	cfg.DefaultFlow = flow

	if cfg.DetailsEndpointURL == "" {
		return nil, errors.New("DETAILS_ENDPOINT_URL is required")
	}
	if u, err := url.Parse(cfg.DetailsEndpointURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("DETAILS_ENDPOINT_URL must be an absolute URL: %q", cfg.DetailsEndpointURL)
	}
	if cfg.DetailsMaxAttempts <= 0 {
		cfg.DetailsMaxAttempts = 1
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt64(value string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
