// Package wsclient is the client side of the signaling websocket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/callring/internal/client"
	"github.com/dkeye/callring/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("signal channel closed")

type Options struct {
	URL          string
	UserID       domain.UserID
	PushToken    domain.PushToken
	WriteWait    time.Duration
	PingInterval time.Duration
	MaxBackoff   time.Duration
	Dialer       *websocket.Dialer
}

// Client keeps one joined socket to the relay and re-dials it on demand.
type Client struct {
	opts    Options
	handler func(domain.Message)

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

var _ client.SignalChannel = (*Client)(nil)

// New does not dial; the first EnsureConnected or Emit does.
func New(opts Options, handler func(domain.Message)) *Client {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{opts: opts, handler: handler}
}

func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(ctx)
}

func (c *Client) ensureLocked(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	join := domain.Message{Kind: domain.KindJoin, UserID: c.opts.UserID, PushToken: c.opts.PushToken}
	if err := c.write(conn, join); err != nil {
		_ = conn.Close()
		return fmt.Errorf("join: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	log.Info().Str("module", "wsclient").Str("user", string(c.opts.UserID)).Msg("connected")
	return nil
}

// Emit sends m, re-dialing first if the socket dropped.
func (c *Client) Emit(ctx context.Context, m domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(ctx); err != nil {
		return err
	}
	if err := c.write(c.conn, m); err != nil {
		c.dropLocked(c.conn)
		return fmt.Errorf("emit %s: %w", m.Kind, err)
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, m domain.Message) error {
	b, err := m.Encode()
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.dropLocked(conn)
		c.mu.Unlock()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "wsclient").Msg("read loop done")
			return
		}
		m, err := domain.ParseMessage(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("bad frame from server")
			continue
		}
		if c.handler != nil {
			c.handler(m)
		}
	}
}

func (c *Client) dropLocked(conn *websocket.Conn) {
	if c.conn == conn {
		c.conn = nil
	}
	_ = conn.Close()
}

// Connected reports whether a socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run keeps the socket alive with app-level pings until ctx ends. It does not
// Close, so a final hangup can still go out.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := c.Emit(ctx, domain.Message{Kind: domain.KindPing}); err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Dur("backoff", backoff).Msg("keepalive failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}
		backoff = time.Second
	}
}

// Close leaves the room and closes the socket. Later calls fail with ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn == nil {
		return
	}
	_ = c.write(c.conn, domain.Message{Kind: domain.KindLeave, UserID: c.opts.UserID})
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opts.WriteWait))
	c.dropLocked(c.conn)
}
