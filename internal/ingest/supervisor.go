package ingest

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// MessageCallback receives one normalized event. A panic inside a callback
// is recovered by the read loop so one faulty subscriber never interrupts
// delivery to the others (spec §4.E step 3).
type MessageCallback func(NormalizedEvent)

// Supervisor maintains one venue connection, its subscription set, and the
// reader/heartbeat goroutines that keep it alive across reconnects. It is
// the client-side mirror of the teacher's session.Handler read/write pump
// pair, generalized from a server upgrader to a venue dialer.
type Supervisor struct {
	name       string
	normalizer Normalizer
	cfg        Config
	dialer     *websocket.Dialer

	subs  *subscriptionSet
	stats *statsBlock

	mu          sync.Mutex
	state       ConnState
	conn        *websocket.Conn
	reconnectMu sync.Mutex
	reconnecting bool

	cbMu      sync.RWMutex
	callbacks []MessageCallback

	exhaustedMu sync.Mutex
	onExhausted func(reason string)

	lastPong atomic.Int64 // unix nanos

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor for one venue. Call Connect to start it.
func NewSupervisor(name string, normalizer Normalizer, cfg Config) *Supervisor {
	return &Supervisor{
		name:       name,
		normalizer: normalizer,
		cfg:        cfg.withDefaults(),
		dialer:     websocket.DefaultDialer,
		subs:       newSubscriptionSet(),
		stats:      &statsBlock{},
		stopCh:     make(chan struct{}),
	}
}

func (s *Supervisor) logf(format string, args ...any) {
	log.Printf("ingest[%s]: "+format, append([]any{s.name}, args...)...)
}

func (s *Supervisor) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// ConnectionState reports the current position in the state machine.
func (s *Supervisor) ConnectionState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsHealthy reports whether the connection is actively reading. During a
// reconnect attempt, or after the reconnect budget is exhausted, it
// reports false (spec §4.E, §7 ReconnectExhausted).
func (s *Supervisor) IsHealthy() bool {
	switch s.ConnectionState() {
	case StateConnected, StateSubscribing, StateReading:
		return true
	default:
		return false
	}
}

// AddMessageCallback registers a subscriber invoked for every normalized
// event. Thread-safe; may be called at any time.
func (s *Supervisor) AddMessageCallback(cb MessageCallback) {
	s.cbMu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.cbMu.Unlock()
}

// OnReconnectExhausted registers the callback fired when the reconnect
// attempt budget is used up (spec §7: "emit a critical-priority event so
// the dispatcher observes the outage" — the caller's callback is expected
// to do the emitting, e.g. via dispatch.Dispatcher.Put with event.Critical).
func (s *Supervisor) OnReconnectExhausted(fn func(reason string)) {
	s.exhaustedMu.Lock()
	s.onExhausted = fn
	s.exhaustedMu.Unlock()
}

// Stats returns a snapshot of connection statistics.
func (s *Supervisor) Stats() WebSocketStats {
	return s.stats.snapshot()
}

// Connect dials the venue, transitions through CONNECTING -> CONNECTED ->
// SUBSCRIBING -> READING, and starts the read and heartbeat loops.
// Idempotent while already connected.
func (s *Supervisor) Connect() error {
	if s.IsHealthy() {
		return nil
	}
	return s.dialAndRun()
}

func (s *Supervisor) dialAndRun() error {
	s.setState(StateConnecting)

	url := s.normalizer.StreamURL(s.subs.snapshot())
	conn, _, err := s.dialer.Dial(url, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("ingest[%s]: dial: %w", s.name, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.setState(StateConnected)
	s.stats.onConnected()
	s.lastPong.Store(time.Now().UnixNano())
	conn.SetPongHandler(func(string) error {
		s.lastPong.Store(time.Now().UnixNano())
		return nil
	})

	// Restoring prior subscriptions is implicit for combined-stream venues:
	// the dial URL above was built from the full subscription set.
	s.setState(StateSubscribing)
	s.setState(StateReading)

	s.wg.Add(2)
	go s.readLoop(conn)
	go s.heartbeatLoop(conn)
	return nil
}

// Subscribe parses and adds channels to the subscription set, then
// re-dials so the venue's combined stream carries the new channel (spec
// §4.E subscribe: "open the venue-specific stream; on success, add to
// subscription set").
func (s *Supervisor) Subscribe(channels []string) error {
	subs, err := parseChannels(channels)
	if err != nil {
		return err
	}
	s.subs.add(subs)
	if s.IsHealthy() {
		return s.redial()
	}
	return nil
}

// Unsubscribe mirrors Subscribe.
func (s *Supervisor) Unsubscribe(channels []string) error {
	subs, err := parseChannels(channels)
	if err != nil {
		return err
	}
	s.subs.remove(subs)
	if s.IsHealthy() {
		return s.redial()
	}
	return nil
}

func parseChannels(channels []string) ([]Subscription, error) {
	out := make([]Subscription, 0, len(channels))
	for _, ch := range channels {
		sub, err := ParseChannel(ch)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// redial closes the current connection and reconnects immediately with
// the up-to-date subscription set, without consuming a reconnect-budget
// attempt (this is a caller-initiated change, not a failure).
func (s *Supervisor) redial() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return s.dialAndRun()
}

// Close cancels readers, closes the connection, and transitions to CLOSED.
// Terminal: a closed Supervisor is not reused.
func (s *Supervisor) Close() {
	s.setState(StateClosed)
	close(s.stopCh)
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
}

// readLoop pulls frames with a short per-frame read deadline (spec §4.E:
// "A single reader per stream ... pulls raw frames with a short per-frame
// timeout"). A read timeout is not fatal; a real connection error or too
// many consecutive parse failures triggers reconnection.
func (s *Supervisor) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	consecutiveParseErrors := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.FrameTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logf("read error: %v", err)
			go s.reconnect("connection lost")
			return
		}

		s.stats.onMessage()
		ev, err := s.normalizer.Normalize(raw)
		if err != nil {
			s.stats.onParseError()
			consecutiveParseErrors++
			if consecutiveParseErrors >= s.cfg.MaxConsecutiveFrameErrors {
				s.logf("too many consecutive parse errors, reconnecting")
				go s.reconnect("parse errors")
				return
			}
			continue
		}
		consecutiveParseErrors = 0

		ev.Exchange = s.normalizer.Name()
		ev.ProcessedTimestamp = time.Now()
		s.deliver(ev)
	}
}

// deliver invokes every registered callback, recovering from panics so one
// faulty subscriber never interrupts delivery to the others.
func (s *Supervisor) deliver(ev NormalizedEvent) {
	s.cbMu.RLock()
	cbs := make([]MessageCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.cbMu.RUnlock()

	for _, cb := range cbs {
		s.safeCall(cb, ev)
	}
}

func (s *Supervisor) safeCall(cb MessageCallback, ev NormalizedEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("callback fault on type=%q symbol=%q: %v", ev.DataType, ev.Symbol, r)
		}
	}()
	cb(ev)
}

// heartbeatLoop sends a ping at PingInterval and treats a missing pong
// within two intervals as a connection failure (spec §4.E: "Send ping at
// ping_interval; on pong timeout, treat as connection failure").
func (s *Supervisor) heartbeatLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			age := time.Since(time.Unix(0, s.lastPong.Load()))
			if age > 2*s.cfg.PingInterval {
				s.logf("pong timeout, reconnecting")
				go s.reconnect("pong timeout")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(s.cfg.FrameTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logf("ping failed: %v", err)
				go s.reconnect("ping failed")
				return
			}
		}
	}
}

// reconnect runs the RECONNECTING state's backoff loop: wait
// reconnect_delay * attempt_number between tries, bounded by
// MaxReconnectAttempts, restoring every subscription on success before
// readers resume. On exhaustion it transitions to CLOSED and fires
// onExhausted (spec §7 ReconnectExhausted).
func (s *Supervisor) reconnect(reason string) {
	s.reconnectMu.Lock()
	if s.reconnecting {
		s.reconnectMu.Unlock()
		return
	}
	s.reconnecting = true
	s.reconnectMu.Unlock()
	defer func() {
		s.reconnectMu.Lock()
		s.reconnecting = false
		s.reconnectMu.Unlock()
	}()

	s.setState(StateReconnecting)
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-s.stopCh:
			return
		case <-time.After(s.cfg.ReconnectDelay * time.Duration(attempt)):
		}

		s.logf("reconnect attempt %d/%d (%s)", attempt, s.cfg.MaxReconnectAttempts, reason)
		if err := s.dialAndRun(); err == nil {
			s.stats.onReconnect()
			s.logf("reconnected")
			return
		}
	}

	s.logf("reconnect budget exhausted (%s)", reason)
	s.setState(StateClosed)

	s.exhaustedMu.Lock()
	fn := s.onExhausted
	s.exhaustedMu.Unlock()
	if fn != nil {
		fn(reason)
	}
}
