// Package relay implements the transport channel: one long-lived WebSocket
// to the backend relay carrying typed JSON events in both directions.
//
// The channel owns the socket exclusively. Unexpected drops are handled with
// a bounded exponential-backoff reconnect loop; consumers only observe the
// Status stream. There is no replay: events that arrive at the relay while
// the channel is Reconnecting are permanently lost.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

var ErrAlreadyConnected = errors.New("relay: already connected")

const (
	eventBuffer  = 32
	streamBuffer = 256
	sendBuffer   = 64
	statusBuffer = 16
)

// Options tune the socket and the reconnect loop. Zero values fall back to
// the defaults below.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingPeriod       time.Duration
	ReadLimit        int64
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.PingPeriod <= 0 {
		out.PingPeriod = 54 * time.Second
	}
	if out.ReadLimit <= 0 {
		out.ReadLimit = 32768
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 500 * time.Millisecond
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 10 * time.Second
	}
	return out
}

// Channel implements core.SignalTransport over gorilla/websocket.
type Channel struct {
	opts Options

	mu      sync.Mutex
	status  core.Status
	conn    *websocket.Conn
	send    chan []byte
	url     string
	gen     int // connection generation; stale pump exits are ignored
	closing bool
	cancel  context.CancelFunc
	ctx     context.Context

	subMu      sync.RWMutex
	subs       map[string][]chan core.Event
	all        []chan core.Event
	statusSubs []chan core.Status

	rejoinMu    sync.Mutex
	rejoinEvent string
	rejoinData  any
}

// NewChannel builds a disconnected channel.
func NewChannel(opts Options) *Channel {
	return &Channel{
		opts:   opts.withDefaults(),
		status: core.StatusDisconnected,
		subs:   make(map[string][]chan core.Event),
	}
}

// Connect dials the relay. A failed handshake is returned to the caller and
// leaves the channel Disconnected; the backoff loop only covers drops of an
// established connection.
func (c *Channel) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	switch c.status {
	case core.StatusConnecting, core.StatusConnected, core.StatusReconnecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.closing = false
	c.url = url
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	c.transition(core.StatusConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		c.transition(core.StatusDisconnected)
		return fmt.Errorf("relay connect %s: %w", url, err)
	}

	c.attach(conn)
	c.transition(core.StatusConnected)
	log.Info().Str("module", "relay").Str("url", url).Msg("connected")
	return nil
}

// attach installs a fresh connection and starts its pumps.
func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, sendBuffer)
	c.gen++
	gen, send := c.gen, c.send
	c.mu.Unlock()

	go c.readPump(gen, conn)
	go c.writePump(gen, conn, send)
}

// Disconnect closes the socket and cancels any reconnect in flight. The
// channel can be connected again afterwards.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closing && c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.closing = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.transition(core.StatusDisconnected)
	log.Info().Str("module", "relay").Msg("disconnected")
}

// Emit queues one event for sending. Never blocks the caller.
func (c *Channel) Emit(event string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay emit %s: %w", event, err)
	}
	frame, err := sonic.Marshal(domain.Envelope{Type: event, Data: data})
	if err != nil {
		return fmt.Errorf("relay emit %s: %w", event, err)
	}

	// Status check and enqueue under one lock: a reconnect swapping the send
	// queue in between would otherwise swallow the frame silently.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != core.StatusConnected {
		return core.ErrNotConnected
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// On returns a multicast stream of one named event.
func (c *Channel) On(event string) <-chan core.Event {
	ch := make(chan core.Event, eventBuffer)
	c.subMu.Lock()
	c.subs[event] = append(c.subs[event], ch)
	c.subMu.Unlock()
	return ch
}

// Events returns every inbound event in relay arrival order.
func (c *Channel) Events() <-chan core.Event {
	ch := make(chan core.Event, streamBuffer)
	c.subMu.Lock()
	c.all = append(c.all, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Channel) Status() core.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StatusChanges streams every status transition in order.
func (c *Channel) StatusChanges() <-chan core.Status {
	ch := make(chan core.Status, statusBuffer)
	c.subMu.Lock()
	c.statusSubs = append(c.statusSubs, ch)
	c.subMu.Unlock()
	return ch
}

// SetRejoin registers the event re-emitted after every successful reconnect.
func (c *Channel) SetRejoin(event string, payload any) {
	c.rejoinMu.Lock()
	c.rejoinEvent, c.rejoinData = event, payload
	c.rejoinMu.Unlock()
}

func (c *Channel) ClearRejoin() {
	c.rejoinMu.Lock()
	c.rejoinEvent, c.rejoinData = "", nil
	c.rejoinMu.Unlock()
}

func (c *Channel) transition(s core.Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	c.subMu.RLock()
	for _, sub := range c.statusSubs {
		select {
		case sub <- s:
		default:
			log.Warn().Str("module", "relay").Str("status", s.String()).Msg("status subscriber lagging, dropped")
		}
	}
	c.subMu.RUnlock()
}

func (c *Channel) dispatch(ev core.Event) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.all {
		select {
		case sub <- ev:
		default:
			log.Warn().Str("module", "relay").Str("event", ev.Name).Msg("event stream full, dropped")
		}
	}
	for _, sub := range c.subs[ev.Name] {
		select {
		case sub <- ev:
		default:
			log.Warn().Str("module", "relay").Str("event", ev.Name).Msg("subscriber full, dropped")
		}
	}
}

// rejoin replays the registered join event after a reconnect so upstream
// components never need reconnect-specific logic.
func (c *Channel) rejoin() {
	c.rejoinMu.Lock()
	event, data := c.rejoinEvent, c.rejoinData
	c.rejoinMu.Unlock()
	if event == "" {
		return
	}
	if err := c.Emit(event, data); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("event", event).Msg("rejoin emit failed")
		return
	}
	log.Info().Str("module", "relay").Str("event", event).Msg("rejoin emitted")
}
