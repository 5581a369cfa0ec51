// Package loadtest provides a WebSocket client and a latency collector for
// driving load against the gateway. The client speaks the same frame protocol
// as real chat clients and completes the auth handshake itself.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/launchpad/chat-gateway/internal/protocol"
)

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	AuthLatency      time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client is a single simulated user connection.
type Client struct {
	conn   net.Conn
	userID string

	writeMu sync.Mutex

	mu       sync.Mutex
	metrics  Metrics
	handlers map[string]func(json.RawMessage)
	authed   chan struct{}
	authErr  chan string

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url and starts the read loop. The connection is not
// authenticated until Auth succeeds.
func Dial(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		authed:   make(chan struct{}),
		authErr:  make(chan string, 1),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// Auth sends the auth frame and blocks until auth_success, auth_error or ctx
// expiry.
func (c *Client) Auth(ctx context.Context, token string) error {
	start := time.Now()
	if err := c.Send(protocol.AuthMsg{Type: protocol.TypeAuth, Token: token}); err != nil {
		return err
	}

	select {
	case <-c.authed:
		c.mu.Lock()
		c.metrics.AuthLatency = time.Since(start)
		c.mu.Unlock()
		return nil
	case msg := <-c.authErr:
		return fmt.Errorf("auth rejected: %s", msg)
	case <-c.done:
		return fmt.Errorf("connection closed before auth completed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UserID returns the identity confirmed by auth_success.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Send writes msg as one JSON text frame. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// On registers the handler for a server frame type, replacing any previous
// one. Handlers run on the read loop and must not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// Alive reports whether the read loop is still running.
func (c *Client) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Metrics returns a copy of the client's metrics.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		handler := c.handlers[env.Type]
		c.mu.Unlock()

		switch env.Type {
		case protocol.TypeAuthSuccess:
			var msg protocol.AuthSuccessMsg
			if json.Unmarshal(data, &msg) == nil {
				c.mu.Lock()
				c.userID = msg.UserID
				c.mu.Unlock()
				select {
				case <-c.authed:
				default:
					close(c.authed)
				}
			}
		case protocol.TypeAuthError:
			var msg protocol.AuthErrorMsg
			_ = json.Unmarshal(data, &msg)
			select {
			case c.authErr <- msg.Message:
			default:
			}
		}

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
