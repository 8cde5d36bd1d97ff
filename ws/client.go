package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultSendBuffer = 256

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	id       string
	identity *types.Identity

	// Buffered channel of outbound messages. It is never closed, writers select on done instead.
	send chan []byte
	done chan struct{}

	// ctx is cancelled when the connection ends, in-flight operations of this connection observe it
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, identity *types.Identity, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:      hub,
		conn:     conn,
		id:       uuid.NewString(),
		identity: identity,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Identity() *types.Identity {
	return c.identity
}

// Enqueue queues frame for the write loop without blocking. A client whose queue is full is too slow to keep up,
// it is closed and the frame is dropped.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.hub.logger.Warn("send queue full, dropping connection", "connection", c.id, "identity", c.identity.Id)
		c.hub.metrics.SlowConsumerDropped()
		c.Close()
		return false
	}
}

// Close ends the connection. It is safe to call multiple times and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

func (c *Client) sendEvent(event string, data interface{}) {
	frame, err := types.EncodeFrame(event, data)
	if err != nil {
		c.hub.logger.Error("could not encode frame", "event", event, "error", err)
		return
	}
	c.Enqueue(frame)
}

func (c *Client) sendError(err error) {
	c.sendEvent(types.EventError, types.ToPayload(err))
}

// ReadLoop pumps messages from the websocket connection to the event handlers.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.Close()
		c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Info("ws closed unexpectedly", "connection", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			c.sendError(types.NewValidationError("malformed frame"))
			continue
		}
		c.dispatch(message)
		if c.ctx.Err() != nil {
			return
		}
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("could not write to ws connection, exiting write loop", "connection", c.id, "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
