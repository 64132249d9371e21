// Package config loads relay configuration.
//
// Precedence: defaults, then the optional YAML file, then environment
// variables. Upstream credentials normally come from the environment
// (PLAY_HT_API_KEY, PLAY_HT_USER_ID) and are required.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"playai-relay-backend/auth"
)

// Config is the complete relay configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	PlayHT  PlayHTConfig  `yaml:"playht"`
	CORS    CORSConfig    `yaml:"cors"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// PlayHTConfig configures the upstream text-to-speech provider
type PlayHTConfig struct {
	Endpoint              string        `yaml:"endpoint"`
	APIKey                string        `yaml:"api_key"`
	UserID                string        `yaml:"user_id"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	ChunkSize             int           `yaml:"chunk_size"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level"`
	// Format: json or console
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8000,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		PlayHT: PlayHTConfig{
			Endpoint:              "https://api.play.ai/api/v1/tts/stream",
			ResponseHeaderTimeout: 30 * time.Second,
			ChunkSize:             4096,
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Loader builds a Config from defaults, a file and the environment
type Loader struct {
	configPath string
	lookupEnv  func(string) (string, bool)
}

func NewLoader() *Loader {
	return &Loader{lookupEnv: os.LookupEnv}
}

// WithConfigPath sets an optional YAML file. An empty path skips it.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithLookupEnv replaces os.LookupEnv, mainly for tests
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// Load returns a validated Config
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := cfg.loadFile(l.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(l.lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	str("PLAY_HT_API_KEY", &c.PlayHT.APIKey)
	str("PLAY_HT_USER_ID", &c.PlayHT.UserID)
	str("PLAY_HT_ENDPOINT", &c.PlayHT.Endpoint)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup("METRICS_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = enabled
	}
	return nil
}

// Validate reports every problem that would stop the relay from serving
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := c.Credentials(); err != nil {
		errs = append(errs, err)
	}
	if c.PlayHT.Endpoint == "" {
		errs = append(errs, errors.New("playht.endpoint is empty"))
	}
	if c.PlayHT.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("playht.chunk_size must be positive, got %d", c.PlayHT.ChunkSize))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Credentials returns the upstream credentials
func (c *Config) Credentials() (auth.Credentials, error) {
	return auth.NewCredentials(c.PlayHT.APIKey, c.PlayHT.UserID)
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
