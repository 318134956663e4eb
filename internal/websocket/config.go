package websocket

import "time"

// Configuration constants
const (
	// Environment variable names read by internal/config
	WSURLEnvVar             = "LESSON_WS_URL"
	MaxReconnectEnvVar      = "LESSON_MAX_RECONNECT_ATTEMPTS"
	PingIntervalEnvVar      = "LESSON_PING_INTERVAL"
	DefaultBaseURL          = "ws://localhost:8080/ws/lesson/"
	TokenQueryParam         = "token"
	DefaultHandshakeTimeout = 10 * time.Second
	WriteTimeout            = 10 * time.Second

	// Reconnect policy
	DefaultMaxReconnectAttempts = 3
	BaseReconnectDelay          = time.Second
	MaxReconnectDelay           = 10 * time.Second

	// Liveness
	DefaultPingInterval = 30 * time.Second
)

// Config controls dialing, heartbeats and reconnects of a Channel.
type Config struct {
	// BaseURL is joined with the session id, e.g. ws://host/ws/lesson/{id}.
	BaseURL string
	// MaxReconnectAttempts of zero disables reconnecting.
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	// PingInterval of zero disables the heartbeat.
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	Dialer           WebsocketDialer
}

// DefaultConfig returns the built-in connection defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:              DefaultBaseURL,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		BaseDelay:            BaseReconnectDelay,
		MaxDelay:             MaxReconnectDelay,
		PingInterval:         DefaultPingInterval,
		HandshakeTimeout:     DefaultHandshakeTimeout,
	}
}

// Backoff returns min(base * 2^attempt, max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 31 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}
