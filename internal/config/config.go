// Package config loads the settings of tessera's hub and node processes
// from an optional YAML file and TESSERA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Process roles.
const (
	RoleHub    = "hub"
	RoleWriter = "writer"
	RoleReader = "reader"
)

// Duration is a time.Duration written as "250ms" or "2s" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Workload describes the array every writer of a demo stream produces and
// every reader consumes. Axis 0 is split evenly across writers and,
// separately, across readers.
type Workload struct {
	Variable string   `yaml:"variable"`
	Shape    []uint64 `yaml:"shape"`
	Steps    int      `yaml:"steps"`
	// Interval paces writers between steps.
	Interval Duration `yaml:"interval"`
}

// Config holds every setting of a hub or node process.
type Config struct {
	Role string `yaml:"role"`
	ID   string `yaml:"id"`

	// Hub is the hub's base URL; nodes only.
	Hub string `yaml:"hub"`
	// Listen is the HTTP listen address (hub API, or node health and
	// metrics). Advertise is the address the hub probes; it defaults to
	// Listen on 127.0.0.1.
	Listen    string `yaml:"listen"`
	Advertise string `yaml:"advertise"`
	// FetchListen and FetchAddr are the gRPC fetch listener of a writer and
	// the address readers dial, as host:port or multiaddr.
	FetchListen string `yaml:"fetch_listen"`
	FetchAddr   string `yaml:"fetch_addr"`

	Writers int `yaml:"writers"`
	Readers int `yaml:"readers"`

	LogLevel    string `yaml:"log_level"`
	Development bool   `yaml:"development"`

	// Background runs the engine's deferred step work on goroutines.
	Background  bool     `yaml:"background"`
	StepTimeout Duration `yaml:"step_timeout"`
	// PollInterval paces AwaitMembers.
	PollInterval Duration `yaml:"poll_interval"`

	HealthInterval Duration `yaml:"health_interval"`
	MaxFailures    int      `yaml:"max_failures"`

	BreakerFailures int      `yaml:"breaker_failures"`
	BreakerOpen     Duration `yaml:"breaker_open"`

	Workload Workload `yaml:"workload"`
}

// Default returns the settings used for anything a file or the
// environment leaves unset.
func Default() Config {
	return Config{
		Role:            RoleHub,
		Hub:             "http://127.0.0.1:8080",
		Listen:          ":8080",
		Writers:         1,
		Readers:         1,
		LogLevel:        "info",
		StepTimeout:     Duration(30 * time.Second),
		PollInterval:    Duration(100 * time.Millisecond),
		HealthInterval:  Duration(2 * time.Second),
		MaxFailures:     3,
		BreakerFailures: 5,
		BreakerOpen:     Duration(10 * time.Second),
		Workload: Workload{
			Variable: "field",
			Shape:    []uint64{16, 16},
			Steps:    10,
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides, fills derived fields, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.Role = getenv("TESSERA_ROLE", c.Role)
	c.ID = getenv("TESSERA_ID", c.ID)
	c.Hub = getenv("TESSERA_HUB", c.Hub)
	c.Listen = getenv("TESSERA_LISTEN", c.Listen)
	c.Advertise = getenv("TESSERA_ADVERTISE", c.Advertise)
	c.FetchListen = getenv("TESSERA_FETCH_LISTEN", c.FetchListen)
	c.FetchAddr = getenv("TESSERA_FETCH_ADDR", c.FetchAddr)
	c.LogLevel = getenv("TESSERA_LOG_LEVEL", c.LogLevel)

	var err error
	if c.Writers, err = getenvInt("TESSERA_WRITERS", c.Writers); err != nil {
		return err
	}
	if c.Readers, err = getenvInt("TESSERA_READERS", c.Readers); err != nil {
		return err
	}
	if c.Workload.Steps, err = getenvInt("TESSERA_STEPS", c.Workload.Steps); err != nil {
		return err
	}
	if v := os.Getenv("TESSERA_BACKGROUND"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: TESSERA_BACKGROUND=%q", ErrInvalidConfig, v)
		}
		c.Background = b
	}
	if v := os.Getenv("TESSERA_SHAPE"); v != "" {
		shape, err := parseShape(v)
		if err != nil {
			return err
		}
		c.Workload.Shape = shape
	}
	return nil
}

func (c *Config) fill() {
	if c.ID == "" {
		c.ID = fmt.Sprintf("%s-%s", c.Role, uuid.NewString()[:8])
	}
	if c.Advertise == "" {
		c.Advertise = localAddr(c.Listen)
	}
	if c.FetchAddr == "" && c.FetchListen != "" {
		c.FetchAddr = localAddr(c.FetchListen)
	}
	if !strings.HasPrefix(c.Hub, "http://") && !strings.HasPrefix(c.Hub, "https://") {
		c.Hub = "http://" + c.Hub
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleHub, RoleWriter, RoleReader:
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidConfig, c.Role)
	}
	if c.Writers < 1 || c.Readers < 1 {
		return fmt.Errorf("%w: need at least one writer and one reader, have %d and %d", ErrInvalidConfig, c.Writers, c.Readers)
	}
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalidConfig)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Role == RoleWriter && c.FetchListen == "" {
		return fmt.Errorf("%w: writer %s has no fetch listen address", ErrInvalidConfig, c.ID)
	}
	if c.Role == RoleHub {
		if c.HealthInterval <= 0 || c.MaxFailures < 1 {
			return fmt.Errorf("%w: health checks need a positive interval and failure limit", ErrInvalidConfig)
		}
		return nil
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	w := c.Workload
	if w.Variable == "" || w.Steps < 1 {
		return fmt.Errorf("%w: workload needs a variable and at least one step", ErrInvalidConfig)
	}
	if len(w.Shape) == 0 {
		return fmt.Errorf("%w: workload shape is empty", ErrInvalidConfig)
	}
	for i, n := range w.Shape {
		if n == 0 {
			return fmt.Errorf("%w: workload shape axis %d is zero", ErrInvalidConfig, i)
		}
	}
	if w.Shape[0] < uint64(c.Writers) || w.Shape[0] < uint64(c.Readers) {
		return fmt.Errorf("%w: axis 0 of %v cannot be split across %d writers and %d readers", ErrInvalidConfig, w.Shape, c.Writers, c.Readers)
	}
	return nil
}

// getenv retrieves an environment variable with a fallback default.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, k, v)
	}
	return n, nil
}

// parseShape parses "16x32" or "16,32".
func parseShape(s string) ([]uint64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == 'x' || r == ',' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: shape %q", ErrInvalidConfig, s)
	}
	out := make([]uint64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: shape %q", ErrInvalidConfig, s)
		}
		out[i] = n
	}
	return out, nil
}

// localAddr turns a listen address such as ":8080" into a dialable one.
func localAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return listen
}
