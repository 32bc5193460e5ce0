// Package config resolves service settings: built-in defaults, then an
// optional TOML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	IsolationInProcess  = "inprocess"
	IsolationSubprocess = "subprocess"
)

type SandboxCfg struct {
	Timeout        time.Duration `toml:"timeout"`
	CancelGrace    time.Duration `toml:"cancel_grace"`
	MaxLogEntries  int           `toml:"max_log_entries"`
	MaxOutputBytes int           `toml:"max_output_bytes"`
	MaxScriptBytes int           `toml:"max_script_bytes"`
	MaxCallStack   int           `toml:"max_call_stack"`
	ProgramCache   int           `toml:"program_cache"`
	Isolation      string        `toml:"isolation"`
	// MaxMemoryMB caps a subprocess worker's heap; 0 leaves it unbounded.
	MaxMemoryMB int `toml:"max_memory_mb"`
}

type EventsCfg struct {
	Enabled bool   `toml:"enabled"`
	Brokers string `toml:"brokers"`
	Topic   string `toml:"topic"`
}

type MetricsCfg struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

type Config struct {
	Addr             string        `toml:"addr"`
	LogLevel         string        `toml:"log_level"`
	LogConsole       bool          `toml:"log_console"`
	LogSampleN       int           `toml:"log_sample_n"`
	RedisAddr        string        `toml:"redis_addr"`
	LayerTTL         time.Duration `toml:"layer_ttl"`
	StoreOpTimeout   time.Duration `toml:"store_op_timeout"`
	SessionCacheSize int           `toml:"session_cache_size"`
	Sandbox          SandboxCfg    `toml:"sandbox"`
	Events           EventsCfg     `toml:"events"`
	Metrics          MetricsCfg    `toml:"metrics"`
}

func Defaults() Config {
	return Config{
		Addr:             ":8090",
		LogLevel:         "info",
		RedisAddr:        "localhost:6379",
		LayerTTL:         24 * time.Hour,
		StoreOpTimeout:   250 * time.Millisecond,
		SessionCacheSize: 256,
		Sandbox: SandboxCfg{
			Timeout:        5 * time.Second,
			CancelGrace:    250 * time.Millisecond,
			MaxLogEntries:  1000,
			MaxOutputBytes: 8 << 20,
			MaxScriptBytes: 256 << 10,
			MaxCallStack:   1024,
			ProgramCache:   128,
			Isolation:      IsolationSubprocess,
			MaxMemoryMB:    1024,
		},
		Events: EventsCfg{
			Brokers: "localhost:9092",
			Topic:   "sandbox-executions",
		},
		Metrics: MetricsCfg{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv() Config {
	c := Defaults()
	applyEnv(&c)
	return c
}

// Load layers the TOML file at path (if any) and then the environment over
// the defaults, and validates the result.
func Load(path string) (Config, error) {
	c := Defaults()
	if path != "" {
		md, err := toml.DecodeFile(path, &c)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return Config{}, fmt.Errorf("config: unknown keys in %s: %v", path, undec)
		}
	}
	applyEnv(&c)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.Sandbox.Isolation {
	case IsolationInProcess, IsolationSubprocess:
	default:
		return fmt.Errorf("config: sandbox isolation must be %q or %q (got %q)", IsolationInProcess, IsolationSubprocess, c.Sandbox.Isolation)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("config: sandbox timeout must be positive")
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("config: sandbox max memory must not be negative")
	}
	if c.Sandbox.CancelGrace < 0 {
		return fmt.Errorf("config: sandbox cancel grace must not be negative")
	}
	if c.SessionCacheSize <= 0 {
		return fmt.Errorf("config: session cache size must be positive")
	}
	return nil
}

// BrokerList splits the comma-separated broker list.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func applyEnv(c *Config) {
	c.Addr = getenv("ADDR", c.Addr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogConsole = getbool("LOG_CONSOLE", c.LogConsole)
	c.LogSampleN = getint("LOG_SAMPLE_N", c.LogSampleN)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.LayerTTL = getduration("LAYER_TTL", c.LayerTTL)
	c.StoreOpTimeout = getduration("STORE_OP_TIMEOUT", c.StoreOpTimeout)
	c.SessionCacheSize = getint("SESSION_CACHE_SIZE", c.SessionCacheSize)

	s := &c.Sandbox
	s.Timeout = getduration("SANDBOX_TIMEOUT", s.Timeout)
	s.CancelGrace = getduration("SANDBOX_CANCEL_GRACE", s.CancelGrace)
	s.MaxLogEntries = getint("SANDBOX_MAX_LOG_ENTRIES", s.MaxLogEntries)
	s.MaxOutputBytes = getint("SANDBOX_MAX_OUTPUT_BYTES", s.MaxOutputBytes)
	s.MaxScriptBytes = getint("SANDBOX_MAX_SCRIPT_BYTES", s.MaxScriptBytes)
	s.MaxCallStack = getint("SANDBOX_MAX_CALL_STACK", s.MaxCallStack)
	s.ProgramCache = getint("SANDBOX_PROGRAM_CACHE", s.ProgramCache)
	s.Isolation = strings.ToLower(getenv("SANDBOX_ISOLATION", s.Isolation))
	s.MaxMemoryMB = getint("SANDBOX_MAX_MEMORY_MB", s.MaxMemoryMB)

	c.Events.Enabled = getbool("EVENTS_ENABLED", c.Events.Enabled)
	c.Events.Brokers = getenv("KAFKA_BROKERS", c.Events.Brokers)
	c.Events.Topic = getenv("KAFKA_TOPIC", c.Events.Topic)

	c.Metrics.Enabled = getbool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getenv("METRICS_ADDR", c.Metrics.Addr)
	c.Metrics.Path = getenv("METRICS_PATH", c.Metrics.Path)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
