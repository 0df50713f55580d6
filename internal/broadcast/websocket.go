// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Frame types on the websocket stream.
const (
	FrameHandshake = "handshake"
	FrameEvent     = "event"
	FramePing      = "ping"
	FramePong      = "pong"
)

// Frame is one JSON message on the websocket.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// WebSocketClient is a Subscriber backed by a websocket connection. Writes
// happen only on the write pump goroutine.
type WebSocketClient struct {
	id        uint64
	tenantID  int64
	conn      *websocket.Conn
	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketClient wraps an upgraded connection.
func NewWebSocketClient(conn *websocket.Conn, tenantID int64, bufferSize int) *WebSocketClient {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &WebSocketClient{
		id:       NextSubscriberID(),
		tenantID: tenantID,
		conn:     conn,
		send:     make(chan Frame, bufferSize),
		done:     make(chan struct{}),
	}
}

// ID implements Subscriber.
func (c *WebSocketClient) ID() uint64 { return c.id }

// Send implements Subscriber.
func (c *WebSocketClient) Send(msg models.StreamMessage) error {
	return c.enqueue(Frame{Type: FrameEvent, Data: msg})
}

func (c *WebSocketClient) enqueue(f Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close implements Subscriber. The write pump sends a close frame and
// closes the connection.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the client is closed.
func (c *WebSocketClient) Done() <-chan struct{} { return c.done }

// Run queues the handshake, starts the write pump and runs the read pump
// until the peer disconnects or the client is closed. onDisconnect runs
// once the read pump exits.
func (c *WebSocketClient) Run(onDisconnect func()) {
	metrics.TrackStreamSubscriber("websocket", true)
	defer metrics.TrackStreamSubscriber("websocket", false)

	_ = c.enqueue(Frame{Type: FrameHandshake, Data: Handshake{TenantID: c.tenantID, ConnectedAt: time.Now().UTC()}})

	go c.writePump()
	c.readPump()

	if onDisconnect != nil {
		onDisconnect()
	}
	c.Close()
}

// readPump reads client frames. Only pings are answered; everything else
// is ignored.
func (c *WebSocketClient) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Uint64("subscriber_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		if f.Type == FramePing {
			_ = c.enqueue(Frame{Type: FramePong})
		}
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				logging.Debug().Err(err).Uint64("subscriber_id", c.id).Msg("websocket write failed")
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

var _ Subscriber = (*WebSocketClient)(nil)
