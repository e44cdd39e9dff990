// Package config loads the agvmonitor configuration.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds everything the monitor needs to start.
type Config struct {
	Server    Server    `yaml:"server"`
	Reconnect Reconnect `yaml:"reconnect"`
	NATS      NATS      `yaml:"nats"`
	Logging   Logging   `yaml:"logging"`
}

// Server describes the realtime event server and what to subscribe to.
type Server struct {
	URL          string        `yaml:"url"`
	Transports   []string      `yaml:"transports"`    // negotiation order
	Rooms        []string      `yaml:"rooms"`         // joined on every connect
	PingInterval time.Duration `yaml:"ping_interval"` // 0 disables client pings
}

// Reconnect mirrors realtime.ReconnectPolicy. Disabled by default.
type Reconnect struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 = forever
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// NATS configures the optional event relay. An empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Defaults returns a Config with the values used when neither file nor environment set them.
func Defaults() Config {
	return Config{
		Server: Server{
			URL:        "http://localhost:5000",
			Transports: []string{"websocket", "polling"},
			Rooms:      []string{"agv-monitor"},
		},
		Reconnect: Reconnect{
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  30 * time.Second,
		},
		NATS: NATS{
			SubjectPrefix: "agv.events",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}
