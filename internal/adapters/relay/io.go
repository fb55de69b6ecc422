package relay

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

// pongGrace is added on top of the ping period for the read deadline.
const pongGrace = 10 * time.Second

func (c *Channel) readPump(gen int, conn *websocket.Conn) {
	conn.SetReadLimit(c.opts.ReadLimit)
	deadline := c.opts.PingPeriod + pongGrace
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onConnLost(gen, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		var env domain.Envelope
		if err := sonic.Unmarshal(data, &env); err != nil || env.Type == "" {
			log.Warn().Err(err).Str("module", "relay").Msg("unparseable frame, dropped")
			continue
		}
		c.dispatch(core.Event{Name: env.Type, Data: env.Data})
	}
}

func (c *Channel) writePump(gen int, conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("write failed")
				return // read side detects the broken socket
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// onConnLost runs on the read pump goroutine when its connection dies.
// Deliberate disconnects and stale generations are ignored.
func (c *Channel) onConnLost(gen int, err error) {
	c.mu.Lock()
	if c.closing || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	log.Warn().Err(err).Str("module", "relay").Msg("connection lost")
	go c.reconnect()
}

// reconnect retries the handshake with exponential backoff. Success restores
// Connected and replays the rejoin event; exhausting the attempts is
// terminal (Failed) until a fresh Connect.
func (c *Channel) reconnect() {
	c.transition(core.StatusReconnecting)

	c.mu.Lock()
	ctx, url := c.ctx, c.url
	c.mu.Unlock()

	delay := c.opts.BaseDelay
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			c.transition(core.StatusDisconnected)
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > c.opts.MaxDelay {
			delay = c.opts.MaxDelay
		}

		dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Warn().Err(err).Str("module", "relay").Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.mu.Unlock()

		c.attach(conn)
		c.transition(core.StatusConnected)
		log.Info().Str("module", "relay").Int("attempt", attempt).Msg("reconnected")
		c.rejoin()
		return
	}

	c.transition(core.StatusFailed)
	log.Error().Str("module", "relay").Int("attempts", c.opts.MaxAttempts).Msg("reconnect attempts exhausted")
}
