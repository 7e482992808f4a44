package ingest

import (
	"sync"
	"time"
)

// WebSocketStats is the per-connection statistics surface of spec §5
// (SUPPLEMENTED FEATURES item 2), grounded on
// original_source's BinanceWebSocketManager.WebSocketStats dataclass.
type WebSocketStats struct {
	ConnectedAt      time.Time
	MessagesReceived uint64
	ReconnectCount   uint64
	ParseErrors      uint64
	LastMessageTime  time.Time
}

// ConnectionDuration mirrors the Python dataclass's connection_duration
// property.
func (s WebSocketStats) ConnectionDuration() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(s.ConnectedAt)
}

type statsBlock struct {
	mu sync.Mutex
	s  WebSocketStats
}

func (b *statsBlock) onConnected() {
	b.mu.Lock()
	b.s.ConnectedAt = time.Now()
	b.mu.Unlock()
}

func (b *statsBlock) onMessage() {
	b.mu.Lock()
	b.s.MessagesReceived++
	b.s.LastMessageTime = time.Now()
	b.mu.Unlock()
}

func (b *statsBlock) onParseError() {
	b.mu.Lock()
	b.s.ParseErrors++
	b.mu.Unlock()
}

func (b *statsBlock) onReconnect() {
	b.mu.Lock()
	b.s.ReconnectCount++
	b.mu.Unlock()
}

func (b *statsBlock) snapshot() WebSocketStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}
