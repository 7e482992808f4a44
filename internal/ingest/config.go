package ingest

import "time"

// Config controls heartbeat, reconnect, and frame-read timing (spec §6:
// ping_interval_s, reconnect_delay_s, max_reconnect_attempts, frame_timeout_s).
type Config struct {
	PingInterval              time.Duration
	ReconnectDelay            time.Duration
	MaxReconnectAttempts      int
	FrameTimeout              time.Duration
	MaxConsecutiveFrameErrors int
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:              30 * time.Second,
		ReconnectDelay:            5 * time.Second,
		MaxReconnectAttempts:      5,
		FrameTimeout:              time.Second,
		MaxConsecutiveFrameErrors: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = d.FrameTimeout
	}
	if c.MaxConsecutiveFrameErrors <= 0 {
		c.MaxConsecutiveFrameErrors = d.MaxConsecutiveFrameErrors
	}
	return c
}
