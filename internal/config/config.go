package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raihanakbr/lesson-session-client/internal/session"
	"github.com/raihanakbr/lesson-session-client/internal/websocket"
)

// Environment variables that override the config file.
const (
	EnvWSURL                = websocket.WSURLEnvVar
	EnvAPIURL               = "LESSON_API_URL"
	EnvTokenBackend         = "LESSON_TOKEN_BACKEND"
	EnvAccessToken          = "LESSON_ACCESS_TOKEN"
	EnvAudioDir             = "LESSON_AUDIO_DIR"
	EnvAudioErrorPolicy     = "LESSON_AUDIO_ERROR_POLICY"
	EnvMaxReconnectAttempts = websocket.MaxReconnectEnvVar
	EnvPingInterval         = websocket.PingIntervalEnvVar
	EnvLogMode              = "LOG_MODE"
)

// Token backends
const (
	BackendKeyring = "keyring"
	BackendEnv     = "env"
	BackendMemory  = "memory"
)

// Config holds the lesson client configuration
type Config struct {
	WSURL  string `yaml:"ws_url"`  // ws://host/ws/lesson/
	APIURL string `yaml:"api_url"` // REST base for /lessons/start

	TokenBackend string `yaml:"token_backend"` // "keyring", "env", "memory"

	AudioDir         string `yaml:"audio_dir"`
	AudioErrorPolicy string `yaml:"audio_error_policy"` // "unblock" or "block"

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 disables reconnecting
	PingInterval         time.Duration `yaml:"ping_interval"`

	LogMode string `yaml:"log_mode"` // "dev" or "prod"
}

// DefaultConfig returns a config with local development defaults
func DefaultConfig() *Config {
	return &Config{
		WSURL:                websocket.DefaultBaseURL,
		APIURL:               "http://localhost:8080",
		TokenBackend:         BackendKeyring,
		AudioDir:             DefaultAudioDir(),
		AudioErrorPolicy:     string(session.AudioErrorUnblock),
		MaxReconnectAttempts: websocket.DefaultMaxReconnectAttempts,
		PingInterval:         websocket.DefaultPingInterval,
		LogMode:              "dev",
	}
}

// DefaultAudioDir returns ~/.lesson-client/audio
func DefaultAudioDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".lesson-client", "audio")
	}
	return filepath.Join(home, ".lesson-client", "audio")
}

// Load builds the config from defaults, the optional YAML file at path and
// the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.WSURL = os.ExpandEnv(cfg.WSURL)
		cfg.APIURL = os.ExpandEnv(cfg.APIURL)
		cfg.AudioDir = os.ExpandEnv(cfg.AudioDir)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setString(&c.WSURL, EnvWSURL)
	setString(&c.APIURL, EnvAPIURL)
	setString(&c.TokenBackend, EnvTokenBackend)
	setString(&c.AudioDir, EnvAudioDir)
	setString(&c.AudioErrorPolicy, EnvAudioErrorPolicy)
	setString(&c.LogMode, EnvLogMode)

	if v := strings.TrimSpace(os.Getenv(EnvMaxReconnectAttempts)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxReconnectAttempts, err)
		}
		c.MaxReconnectAttempts = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvPingInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPingInterval, err)
		}
		c.PingInterval = d
	}
	return nil
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	if c.WSURL == "" {
		return fmt.Errorf("ws_url is required")
	}
	switch c.TokenBackend {
	case BackendKeyring, BackendEnv, BackendMemory:
	default:
		return fmt.Errorf("unknown token backend %q", c.TokenBackend)
	}
	if _, err := session.ParseAudioErrorPolicy(c.AudioErrorPolicy); err != nil {
		return err
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	return nil
}

// Websocket returns the channel configuration.
func (c *Config) Websocket() websocket.Config {
	wc := websocket.DefaultConfig()
	wc.BaseURL = c.WSURL
	wc.MaxReconnectAttempts = c.MaxReconnectAttempts
	wc.PingInterval = c.PingInterval
	return wc
}

// Session returns the controller configuration. Call after Validate.
func (c *Config) Session() session.Config {
	policy, _ := session.ParseAudioErrorPolicy(c.AudioErrorPolicy)
	return session.Config{AudioErrorPolicy: policy}
}
