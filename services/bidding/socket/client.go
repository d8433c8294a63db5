package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	model "live-auction/internal/models"
	"live-auction/internal/registry"
	"live-auction/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// client is one authenticated WebSocket connection. It implements
// registry.Conn; Send only enqueues and never touches the network.
type client struct {
	id            string
	identity      model.Identity
	clientAddress string
	conn          *websocket.Conn
	send          chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newClient(id string, identity model.Identity, clientAddress string, conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		id:            id,
		identity:      identity,
		clientAddress: clientAddress,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (c *client) ID() string { return c.id }

func (c *client) Send(msg registry.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		// client can't keep up, drop it; it resyncs on reconnect
		c.close()
		return ErrSlowConsumer
	}
}

func (c *client) close() {
	c.once.Do(c.cancel)
}

// writePump pumps queued messages to the websocket connection
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump reads client frames and hands each one to handle, in order
func (c *client) readPump(handle func(c *client, data []byte)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				utils.Warn("socket: read error", map[string]any{
					"component": "socket",
					"conn_id":   c.id,
					"user_id":   c.identity.UserID,
					"error":     err.Error(),
				})
			}
			return
		}
		handle(c, data)
	}
}
