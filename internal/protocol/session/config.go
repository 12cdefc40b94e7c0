package session

import (
	"time"

	"github.com/danmuck/fsconnect/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig describes client-side TLS for wss:// and tls:// endpoints.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines connection and correlation defaults for one engine instance.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// RequestTimeout bounds how long a tagged request waits for OK/ERR.
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	// HeartbeatInterval paces service status logs.
	HeartbeatInterval time.Duration
	// SessionDeadAfter closes a connection with no inbound frames for this
	// long. Zero disables the watchdog.
	SessionDeadAfter time.Duration
	Backoff          BackoffConfig
	SecurityMode     SecurityMode
	TLS              TLSConfig
	Limits           frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		RequestTimeout:    30 * time.Second,
		WriteTimeout:      15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		SessionDeadAfter:  0,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
		Limits:       frame.DefaultLimits(),
	}
}

// WithDefaults fills every zero duration and limit from DefaultConfig.
// SessionDeadAfter stays zero when unset.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.SessionDeadAfter < 0 {
		c.SessionDeadAfter = 0
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.SecurityMode == "" {
		c.SecurityMode = def.SecurityMode
	}
	if c.Limits.MaxLineBytes <= 0 {
		c.Limits = def.Limits
	}
	return c
}
