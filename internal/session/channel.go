package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pigeonchat/pigeon/internal/bus"
	"github.com/pigeonchat/pigeon/internal/store"
	"go.uber.org/zap"
)

// frame is one server-to-client event on the push channel. The channel
// carries no client-to-server messages; sends go through the request
// path.
type frame struct {
	Event   string         `json:"event"`
	UserIDs []string       `json:"userIds,omitempty"`
	Message *store.Message `json:"message,omitempty"`
}

const (
	frameMessage  = "message"
	framePresence = "presence"
)

// Channel owns the single push-channel connection for the authenticated
// user. It decodes inbound frames and republishes them as channel.* bus
// events. The channel does not reconnect on its own; a transport failure
// publishes one channel.error event and the connection stays down until
// the next login triggers a fresh Connect.
type Channel struct {
	socketURL string
	bus       *bus.Bus
	logger    *zap.Logger

	// connectMu serializes Connect and Disconnect end to end, dial
	// included, so two racing Connects cannot both dial and leak a
	// socket. mu alone guards conn for the read loop.
	connectMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	userID string
}

// NewChannel creates a channel that will dial socketURL.
func NewChannel(socketURL string, b *bus.Bus, logger *zap.Logger) *Channel {
	return &Channel{socketURL: socketURL, bus: b, logger: logger}
}

// Connect establishes the push connection tagged with userID. Calling it
// again for the same user while connected is a no-op; for a different
// user, the prior connection is torn down first.
func (c *Channel) Connect(ctx context.Context, userID string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.conn != nil {
		if c.userID == userID {
			c.mu.Unlock()
			return nil
		}
		c.closeLocked()
	}
	c.mu.Unlock()

	u, err := url.Parse(c.socketURL)
	if err != nil {
		return fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.userID = userID
	c.mu.Unlock()

	c.logger.Info("push channel connected", zap.String("user_id", userID))
	go c.readLoop(conn)
	return nil
}

// Disconnect tears down the connection. Safe to call when not connected.
func (c *Channel) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Channel) closeLocked() {
	if c.conn == nil {
		return
	}
	// Nil out before Close so the read loop can tell a deliberate
	// teardown from a transport failure.
	conn := c.conn
	c.conn = nil
	c.userID = ""
	_ = conn.Close()
	c.logger.Info("push channel disconnected")
}

// Connected reports whether a live connection exists.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// UserID returns the user the live connection is tagged with, or "".
func (c *Channel) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			deliberate := c.conn != conn
			if !deliberate {
				c.conn = nil
				c.userID = ""
			}
			c.mu.Unlock()

			if !deliberate {
				c.logger.Warn("push channel lost", zap.Error(err))
				c.bus.Publish(bus.Event{Kind: bus.KindChannelError, Payload: err.Error()})
			}
			return
		}

		switch f.Event {
		case framePresence:
			ids := f.UserIDs
			if ids == nil {
				ids = []string{}
			}
			c.bus.Publish(bus.Event{Kind: bus.KindPresenceSnapshot, Payload: ids})
		case frameMessage:
			if f.Message == nil {
				continue
			}
			c.bus.Publish(bus.Event{Kind: bus.KindMessageArrived, Payload: f.Message})
		default:
			c.logger.Debug("unknown push frame", zap.String("event", f.Event))
		}
	}
}
