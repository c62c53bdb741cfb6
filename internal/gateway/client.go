package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tronrun/agentruntime/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 * 1024
)

// Client is one WebSocket connection: a read pump dispatching RPC
// requests and a write pump multiplexing responses with broadcast
// events from the bus.
type Client struct {
	ID     string
	conn   *websocket.Conn
	server *Server

	send    chan []byte
	done    chan struct{}
	limiter *RateLimiter
}

// NewClient wraps an upgraded connection.
func NewClient(id string, conn *websocket.Conn, server *Server) *Client {
	return &Client{
		ID:      id,
		conn:    conn,
		server:  server,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
		limiter: NewRateLimiter(server.cfg.RPCRateLimitPerSec, server.cfg.RPCRateLimitBurst),
	}
}

// Run pumps the connection until it closes or ctx ends.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subID, events := c.server.orch.Bus().Subscribe()
	defer c.server.orch.Bus().Unsubscribe(subID)

	go c.writePump(ctx, events)
	c.readPump(ctx)
}

// Close tears the connection down.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("gateway: read error", "client", c.ID, "error", err)
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.sendResponse(protocol.Response{
				ID:      "",
				Success: false,
				Error:   &protocol.Error{Code: protocol.ErrCodeInvalidParams, Message: "malformed request"},
			})
			continue
		}

		if !c.limiter.Allow() {
			c.sendResponse(protocol.Response{
				ID:      req.ID,
				Success: false,
				Error:   &protocol.Error{Code: protocol.ErrCodeServerBusy, Message: "rate limit exceeded"},
			})
			continue
		}

		// Dispatch off the read loop so a long handler doesn't stall
		// subsequent frames.
		go func(req protocol.Request) {
			c.sendResponse(c.server.router.Dispatch(ctx, req))
		}(req)
	}
}

func (c *Client) writePump(ctx context.Context, events <-chan protocol.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == protocol.EventCacheInvalidate {
				continue // internal-only, never forwarded
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendResponse(resp protocol.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("gateway: marshal response", "error", err)
		return
	}
	select {
	case c.send <- raw:
	case <-c.done:
	}
}
