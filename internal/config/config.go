package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tasooshi/pukpuk/internal/collectors"
	"github.com/tasooshi/pukpuk/internal/models"
)

// ErrInvalid marks configuration errors; they are fatal before any work starts.
var ErrInvalid = errors.New("invalid configuration")

// Log levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelQuiet = "quiet"
)

const (
	DefaultPorts     = "80/http,443/https"
	DefaultBrowser   = "chromium"
	DefaultUserAgent = "Mozilla/5.0 (compatible; pukpuk)"
	OutputDirExt     = ".pukpuk"
)

// Config holds the application's configuration values.
type Config struct {
	Network string `yaml:"network"`
	Hosts   string `yaml:"hosts"`
	URLs    string `yaml:"urls"`
	Targets string `yaml:"targets"`

	Ports          string        `yaml:"ports"`
	Workers        int           `yaml:"workers"`
	SocketTimeout  time.Duration `yaml:"socket_timeout"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	Randomize      bool          `yaml:"randomize"`
	Nameserver     string        `yaml:"nameserver"`
	SOCKS5         string        `yaml:"socks5"`
	Rate           float64       `yaml:"rate"`

	Modules     []string `yaml:"modules"`
	SkipScreens bool     `yaml:"skip_screens"`
	Browser     string   `yaml:"browser"`
	UserAgent   string   `yaml:"user_agent"`
	Attempts    int      `yaml:"grabbing_attempts"`

	OutputDir string `yaml:"output_dir"`
	LogLevel  string `yaml:"log_level"`

	Database      string        `yaml:"database"`
	HTTPPort      string        `yaml:"http_port"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ports:          DefaultPorts,
		Workers:        15,
		SocketTimeout:  3 * time.Second,
		ProcessTimeout: 20 * time.Second,
		Modules:        []string{"responses", "screens"},
		Browser:        DefaultBrowser,
		UserAgent:      DefaultUserAgent,
		Attempts:       3,
		LogLevel:       LevelInfo,
		Database:       "pukpuk.db",
		HTTPPort:       "8080",
		ShutdownGrace:  10 * time.Second,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and PUKPUK_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Network = getEnv("PUKPUK_NETWORK", c.Network)
	c.Hosts = getEnv("PUKPUK_HOSTS", c.Hosts)
	c.URLs = getEnv("PUKPUK_URLS", c.URLs)
	c.Targets = getEnv("PUKPUK_TARGETS", c.Targets)
	c.Ports = getEnv("PUKPUK_PORTS", c.Ports)
	c.Workers = getEnvInt("PUKPUK_WORKERS", c.Workers)
	c.SocketTimeout = getEnvDuration("PUKPUK_SOCKET_TIMEOUT", c.SocketTimeout)
	c.ProcessTimeout = getEnvDuration("PUKPUK_PROCESS_TIMEOUT", c.ProcessTimeout)
	c.Randomize = getEnvBool("PUKPUK_RANDOMIZE", c.Randomize)
	c.Nameserver = getEnv("PUKPUK_NAMESERVER", c.Nameserver)
	c.SOCKS5 = getEnv("PUKPUK_SOCKS5", c.SOCKS5)
	c.Rate = getEnvFloat("PUKPUK_RATE", c.Rate)
	if v, ok := os.LookupEnv("PUKPUK_MODULES"); ok {
		c.Modules = splitList(v)
	}
	c.SkipScreens = getEnvBool("PUKPUK_SKIP_SCREENS", c.SkipScreens)
	c.Browser = getEnv("PUKPUK_BROWSER", c.Browser)
	c.UserAgent = getEnv("PUKPUK_USER_AGENT", c.UserAgent)
	c.Attempts = getEnvInt("PUKPUK_GRABBING_ATTEMPTS", c.Attempts)
	c.OutputDir = getEnv("PUKPUK_OUTPUT_DIR", c.OutputDir)
	c.LogLevel = getEnv("PUKPUK_LOG_LEVEL", c.LogLevel)
	c.Database = getEnv("PUKPUK_DATABASE", c.Database)
	c.HTTPPort = getEnv("PUKPUK_HTTP_PORT", c.HTTPPort)
	c.ShutdownGrace = getEnvDuration("PUKPUK_SHUTDOWN_GRACE", c.ShutdownGrace)
}

// HasTargets reports whether at least one target source is configured.
func (c *Config) HasTargets() bool {
	return c.Network != "" || c.Hosts != "" || c.URLs != "" || c.Targets != ""
}

// Services parses the port list into the service matrix.
func (c *Config) Services() ([]models.Service, error) {
	return ParseServices(c.Ports)
}

// EnabledModules returns the module names to run, honouring SkipScreens.
func (c *Config) EnabledModules() []string {
	var out []string
	for _, m := range c.Modules {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || (c.SkipScreens && m == "screens") {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Validate checks the values a scan depends on.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalid, c.Workers)
	}
	if c.SocketTimeout <= 0 {
		return fmt.Errorf("%w: socket timeout must be positive", ErrInvalid)
	}
	if c.ProcessTimeout <= 0 {
		return fmt.Errorf("%w: process timeout must be positive", ErrInvalid)
	}
	if c.Attempts < 1 {
		return fmt.Errorf("%w: grabbing attempts must be positive, got %d", ErrInvalid, c.Attempts)
	}
	if c.Rate < 0 {
		return fmt.Errorf("%w: rate must not be negative", ErrInvalid)
	}
	if _, err := c.Services(); err != nil {
		return err
	}
	known := collectors.Names()
	for _, m := range c.EnabledModules() {
		if !slices.Contains(known, m) {
			return fmt.Errorf("%w: unknown module %q (available: %s)", ErrInvalid, m, strings.Join(known, ", "))
		}
	}
	if c.SOCKS5 != "" {
		if err := validateHostPort(c.SOCKS5); err != nil {
			return fmt.Errorf("%w: socks5 proxy: %v", ErrInvalid, err)
		}
	}
	switch c.LogLevel {
	case LevelDebug, LevelInfo, LevelQuiet:
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// ParseServices parses a comma separated list of "port" or "port/protocol"
// entries, e.g. "80/http,443/https,8080".
func ParseServices(s string) ([]models.Service, error) {
	var services []models.Service
	for _, entry := range splitList(s) {
		portStr, protoStr, _ := strings.Cut(entry, "/")
		port, err := strconv.ParseUint(strings.TrimSpace(portStr), 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalid, entry)
		}
		proto, err := models.ParseProtocol(protoStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		services = append(services, models.Service{Port: uint16(port), Protocol: proto})
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: empty port list", ErrInvalid)
	}
	return services, nil
}

// NewOutputDir returns <YYYYmmdd_HHMM>.pukpuk, adding -1, -2, ... until the
// name does not exist yet.
func NewOutputDir(now time.Time) string {
	stamp := now.Format("20060102_1504")
	name := stamp + OutputDirExt
	for suffix := 1; exists(name); suffix++ {
		name = stamp + "-" + strconv.Itoa(suffix) + OutputDirExt
	}
	return name
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func validateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("missing host in %q", addr)
	}
	if p, err := strconv.ParseUint(port, 10, 16); err != nil || p == 0 {
		return fmt.Errorf("invalid port in %q", addr)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper function to get an environment variable or return a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get an environment variable as an integer.
func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a time.Duration.
// Bare numbers are taken as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
		if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}
