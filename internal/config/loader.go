package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "webscout.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "WEBSCOUT_PORT")
	setString(&cfg.Server.CORSOrigin, "WEBSCOUT_CORS_ORIGIN")
	setString(&cfg.Agent.URL, "WEBSCOUT_AGENT_URL")
	setDuration(&cfg.Agent.Timeout, "WEBSCOUT_AGENT_TIMEOUT")
	setString(&cfg.Browser.Host, "WEBSCOUT_BROWSER_HOST")
	setInt(&cfg.Browser.Port, "WEBSCOUT_BROWSER_PORT")
	setBool(&cfg.Browser.Headless, "WEBSCOUT_BROWSER_HEADLESS")
	setInt(&cfg.Browser.MaxTextChars, "WEBSCOUT_MAX_TEXT_CHARS")
	setInt(&cfg.Browser.MaxLinks, "WEBSCOUT_MAX_LINKS")
	setInt(&cfg.Scheduler.MaxConcurrent, "WEBSCOUT_MAX_CONCURRENT_TASKS")
	setDuration(&cfg.Scheduler.DefaultBudget, "WEBSCOUT_TASK_TIMEOUT")
	setDuration(&cfg.Scheduler.PollInterval, "WEBSCOUT_SCHEDULER_POLL_INTERVAL")
	setBool(&cfg.Politeness.Enabled, "WEBSCOUT_RATE_LIMIT_ENABLED")
	setInt(&cfg.Politeness.Requests, "WEBSCOUT_RATE_LIMIT_REQUESTS")
	setDuration(&cfg.Politeness.Window, "WEBSCOUT_RATE_LIMIT_WINDOW")
	setDuration(&cfg.Politeness.DelayMin, "WEBSCOUT_REQUEST_DELAY_MIN")
	setDuration(&cfg.Politeness.DelayMax, "WEBSCOUT_REQUEST_DELAY_MAX")
	setStringList(&cfg.Filter.Allowed, "WEBSCOUT_ALLOWED_DOMAINS")
	setStringList(&cfg.Filter.Denied, "WEBSCOUT_DENIED_DOMAINS")
	setString(&cfg.Filter.AllowedFile, "WEBSCOUT_ALLOWED_DOMAINS_FILE")
	setString(&cfg.Filter.DeniedFile, "WEBSCOUT_DENIED_DOMAINS_FILE")
	setFloat64(&cfg.Rate.RequestsPerSecond, "WEBSCOUT_RATE_RPS")
	setInt(&cfg.Rate.Burst, "WEBSCOUT_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "WEBSCOUT_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "WEBSCOUT_RATE_MAX_IDLE_TIME")
	setString(&cfg.Artifacts.Dir, "WEBSCOUT_ARTIFACTS_DIR")
	setBool(&cfg.Archive.Enabled, "WEBSCOUT_ARCHIVE_ENABLED")
	setString(&cfg.Archive.DSN, "DATABASE_URL")
	setInt32(&cfg.Archive.MaxConns, "WEBSCOUT_PG_MAX_CONNS")
	setInt32(&cfg.Archive.MinConns, "WEBSCOUT_PG_MIN_CONNS")
	setDuration(&cfg.Archive.MaxConnLifetime, "WEBSCOUT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Archive.MaxConnIdleTime, "WEBSCOUT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Archive.HealthCheck, "WEBSCOUT_PG_HEALTH_CHECK")
	setInt64(&cfg.Cache.MaxSizeMB, "WEBSCOUT_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "WEBSCOUT_CACHE_TTL")
	setString(&cfg.Logging.Level, "WEBSCOUT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "WEBSCOUT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "WEBSCOUT_LOG_ASYNC")
	setInt(&cfg.Logging.Buffer, "WEBSCOUT_LOG_BUFFER")
	setInt(&cfg.Logging.Workers, "WEBSCOUT_LOG_WORKERS")
	setInt(&cfg.Breaker.MaxFailures, "WEBSCOUT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "WEBSCOUT_BREAKER_TIMEOUT")
	setBool(&cfg.OTEL.Enabled, "WEBSCOUT_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFloat64(&cfg.OTEL.SampleRatio, "WEBSCOUT_OTEL_SAMPLE_RATIO")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Agent.URL == "" {
		return errors.New("agent.url is required")
	}
	if cfg.Scheduler.MaxConcurrent < 1 {
		return errors.New("scheduler.max_concurrent must be >= 1")
	}
	if cfg.Politeness.Enabled && cfg.Politeness.Requests < 1 {
		return errors.New("politeness.requests must be >= 1")
	}
	if cfg.Politeness.DelayMax < cfg.Politeness.DelayMin {
		return errors.New("politeness.delay_max must be >= politeness.delay_min")
	}
	if cfg.Archive.Enabled && cfg.Archive.DSN == "" {
		return errors.New("archive.dsn is required when the archive is enabled")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setStringList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
