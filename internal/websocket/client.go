package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one subscriber connection. Outbound frames go through send,
// which only the hub closes.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a control frame sent by a subscriber.
type ClientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// NewClient creates a client for conn. conn may be nil in tests that only
// exercise the hub.
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Debug("undecodable client frame", "error", err)
			c.replyError("invalid message format")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if _, ok := domain.ParseIndex(msg.Channel); !ok {
			c.replyError(`channel must be "global" or "game:<game>"`)
			return
		}
		c.hub.Subscribe(c, msg.Channel)
		c.reply(MessageTypeSubscribed, msg.Channel, map[string]string{"status": "ok"})
	case MessageTypeUnsubscribe:
		if msg.Channel == "" {
			return
		}
		c.hub.Unsubscribe(c, msg.Channel)
		c.reply(MessageTypeUnsubscribed, msg.Channel, map[string]string{"status": "ok"})
	case MessageTypePing:
		c.reply(MessageTypePong, "", nil)
	default:
		c.logger.Debug("ignoring client frame", "type", msg.Type)
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) replyError(text string) {
	c.reply(MessageTypeError, "", map[string]string{"error": text})
}

func (c *Client) reply(kind, channel string, data interface{}) {
	c.queue(Message{
		Type:      kind,
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// queue enqueues msg without blocking; it is dropped when the buffer is full.
func (c *Client) queue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// ServeWs upgrades the request and registers the client. Channels named in
// ?channel= query parameters are subscribed immediately.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	for _, channel := range r.URL.Query()["channel"] {
		if _, ok := domain.ParseIndex(channel); ok {
			hub.Subscribe(client, channel)
		}
	}

	go client.writeLoop()
	go client.readLoop()

	client.logger.Debug("websocket connection opened", "remote_addr", r.RemoteAddr)
}
