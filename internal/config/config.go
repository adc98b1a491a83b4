// Package config loads the propsync YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/propsync/internal/animate"
)

// Config is the top-level configuration of the run command.
type Config struct {
	FrameInterval   time.Duration `yaml:"frame_interval"`
	SettleThreshold time.Duration `yaml:"settle_threshold"`
	Targets         int           `yaml:"targets"`
	Journal         string        `yaml:"journal"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	LogLevel        string        `yaml:"log_level"`
	Animation       Animation     `yaml:"animation"`
	MQTT            MQTT          `yaml:"mqtt"`
}

// Animation configures the demo animator.
type Animation struct {
	Duration  time.Duration `yaml:"duration"`
	Easing    string        `yaml:"easing"`
	From      string        `yaml:"from"`
	To        string        `yaml:"to"`
	WidthFrom float64       `yaml:"width_from"`
	WidthTo   float64       `yaml:"width_to"`
	Stagger   time.Duration `yaml:"stagger"`
	// Loop restarts the animation (reversed) once every target settled.
	Loop bool `yaml:"loop"`
}

// MQTT configures the remote presentation sink. The sink is used only when
// URL is set.
type MQTT struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	// Encoding is the batch payload format: json (default) or cbor.
	Encoding string `yaml:"encoding"`
}

// Enabled reports whether the MQTT sink is configured.
func (m MQTT) Enabled() bool {
	return m.URL != ""
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		FrameInterval:   16 * time.Millisecond,
		SettleThreshold: 36 * time.Millisecond,
		Targets:         4,
		LogLevel:        "info",
		Animation: Animation{
			Duration:  400 * time.Millisecond,
			Easing:    "in-out-quad",
			From:      "#1a1b26",
			To:        "#7aa2f7",
			WidthFrom: 0,
			WidthTo:   100,
			Stagger:   48 * time.Millisecond,
		},
		MQTT: MQTT{
			ClientID: "propsync",
			Topic:    "propsync/batches",
		},
	}
}

// Load reads and validates the configuration at path. Missing fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML configuration. Unknown fields are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("frame_interval must be positive, got %s", c.FrameInterval))
	}
	if c.SettleThreshold < c.FrameInterval {
		errs = append(errs, fmt.Errorf("settle_threshold %s must be at least frame_interval %s", c.SettleThreshold, c.FrameInterval))
	}
	if c.Targets < 1 {
		errs = append(errs, fmt.Errorf("targets must be at least 1, got %d", c.Targets))
	}
	if c.Animation.Duration <= 0 {
		errs = append(errs, fmt.Errorf("animation.duration must be positive, got %s", c.Animation.Duration))
	}
	if _, err := animate.EasingByName(c.Animation.Easing); err != nil {
		errs = append(errs, fmt.Errorf("animation.easing: %w", err))
	}
	if c.Animation.Stagger < 0 {
		errs = append(errs, fmt.Errorf("animation.stagger must not be negative, got %s", c.Animation.Stagger))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.MQTT.Enabled() {
		if c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.topic is required when mqtt.url is set"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
		if c.MQTT.Encoding != "" && c.MQTT.Encoding != "json" && c.MQTT.Encoding != "cbor" {
			errs = append(errs, fmt.Errorf("mqtt.encoding must be json or cbor, got %q", c.MQTT.Encoding))
		}
	}

	return errors.Join(errs...)
}

// SlogLevel parses log_level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
