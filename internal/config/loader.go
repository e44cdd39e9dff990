package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/agvwms/realtime"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agvmonitor.yaml"

// Load returns a Config from DefaultConfigFile and the environment.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config using the hierarchy defaults < YAML < ENV.
// A missing YAML file is not an error.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, errors.Wrap(err, "config yaml")
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validate")
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "read %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg. Empty values are ignored.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.URL, "AGV_SERVER_URL")
	setList(&cfg.Server.Transports, "AGV_TRANSPORTS")
	setList(&cfg.Server.Rooms, "AGV_ROOMS")
	setDuration(&cfg.Server.PingInterval, "AGV_PING_INTERVAL")

	setBool(&cfg.Reconnect.Enabled, "AGV_RECONNECT")
	setInt(&cfg.Reconnect.MaxAttempts, "AGV_RECONNECT_MAX_ATTEMPTS")
	setDuration(&cfg.Reconnect.BaseDelay, "AGV_RECONNECT_BASE_DELAY")
	setDuration(&cfg.Reconnect.MaxDelay, "AGV_RECONNECT_MAX_DELAY")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "AGV_NATS_SUBJECT_PREFIX")

	setString(&cfg.Logging.Level, "AGV_LOG_LEVEL")
	setBool(&cfg.Logging.Development, "AGV_LOG_DEVELOPMENT")
}

func validate(cfg *Config) error {
	if cfg.Server.URL == "" {
		return errors.New("server.url is required")
	}
	if len(cfg.Server.Transports) == 0 {
		return errors.New("server.transports must not be empty")
	}
	for _, name := range cfg.Server.Transports {
		switch realtime.TransportName(name) {
		case realtime.TransportWebSocket, realtime.TransportPolling:
		default:
			return errors.Errorf("server.transports: unknown transport %q", name)
		}
	}
	if cfg.Server.PingInterval < 0 {
		return errors.New("server.ping_interval must be >= 0")
	}
	if cfg.Reconnect.Enabled {
		if cfg.Reconnect.MaxAttempts < 0 {
			return errors.New("reconnect.max_attempts must be >= 0")
		}
		if cfg.Reconnect.BaseDelay <= 0 || cfg.Reconnect.MaxDelay <= 0 {
			return errors.New("reconnect delays must be > 0")
		}
		if cfg.Reconnect.BaseDelay > cfg.Reconnect.MaxDelay {
			return errors.New("reconnect.base_delay must not exceed reconnect.max_delay")
		}
	}
	if cfg.NATS.URL != "" && strings.Trim(cfg.NATS.SubjectPrefix, ".") == "" {
		return errors.New("nats.subject_prefix is required when nats.url is set")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("logging.level: unsupported level %q", cfg.Logging.Level)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma separated value, dropping blanks.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
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
