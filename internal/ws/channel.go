package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/wingdesk/internal/logger"
)

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
	readLimit         = 512 * 1024
)

// Channel is one real-time connection scoped to a session and a purpose.
type Channel struct {
	Kind      Kind
	SessionID string

	url     string
	token   string
	onFrame func(ch *Channel, data []byte)
	onState func(ch *Channel, s State, err error)
	log     *slog.Logger

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func newChannel(kind Kind, sessionID, url, token string) *Channel {
	return &Channel{
		Kind:      kind,
		SessionID: sessionID,
		url:       url,
		token:     token,
		state:     StateConnecting,
		done:      make(chan struct{}),
		log:       logger.With("ws").With("kind", kind, "session", sessionID),
	}
}

// State returns the channel's connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) notify(s State, err error) {
	if c.onState != nil {
		c.onState(c, s, err)
	}
}

// dial connects, retrying with backoff while the channel is still connecting.
// It returns once the channel is open or closed.
func (c *Channel) dial(ctx context.Context, attempts int, bo *Backoff) error {
	if attempts < 1 {
		attempts = 1
	}
	opts := &websocket.DialOptions{HTTPHeader: make(http.Header)}
	if c.token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.token)
	}

	var lastErr error
dialLoop:
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break dialLoop
			case <-time.After(bo.Next()):
			}
		}
		if c.State() != StateConnecting {
			return &ChannelError{Kind: c.Kind, State: StateClosed, Err: ErrChannelNotOpen}
		}

		conn, resp, err := websocket.Dial(ctx, c.url, opts)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				lastErr = ErrAuthRejected
				break dialLoop
			}
			lastErr = err
			c.log.Debug("channel dial failed", "attempt", i+1, "err", err)
			continue
		}
		conn.SetReadLimit(readLimit)

		readCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		if c.state != StateConnecting {
			// closed while the handshake was in progress
			c.mu.Unlock()
			cancel()
			conn.CloseNow()
			return &ChannelError{Kind: c.Kind, State: StateClosed, Err: ErrChannelNotOpen}
		}
		c.conn = conn
		c.cancel = cancel
		c.state = transition(c.state, evDialed)
		c.mu.Unlock()

		c.log.Debug("channel open")
		c.notify(StateOpen, nil)
		go c.heartbeatLoop(readCtx, conn)
		go c.readLoop(readCtx, conn)
		return nil
	}

	c.mu.Lock()
	c.state = transition(c.state, evDialFailed)
	c.mu.Unlock()
	close(c.done)
	err := &ChannelError{Kind: c.Kind, State: StateClosed, Err: fmt.Errorf("%w: %w", ErrDialFailed, lastErr)}
	c.notify(StateClosed, err)
	return err
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			prev := c.state
			c.state = transition(c.state, evDropped)
			c.conn = nil
			c.mu.Unlock()
			if prev == StateOpen {
				c.log.Warn("channel dropped", "err", err)
				conn.CloseNow()
				c.notify(StateClosed, &ChannelError{Kind: c.Kind, State: StateClosed, Err: err})
			}
			return
		}
		if c.State() != StateOpen {
			return
		}
		if c.onFrame != nil {
			c.onFrame(c, data)
		}
	}
}

func (c *Channel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Debug("channel ping failed", "err", err)
					conn.CloseNow()
				}
				return
			}
		}
	}
}

// Send writes v as one JSON text frame. Sends on a channel that is not open are
// rejected; nothing is buffered for a later reconnect.
func (c *Channel) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if state != StateOpen || conn == nil {
		return &ChannelError{Kind: c.Kind, State: state, Err: ErrChannelNotOpen}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return &ChannelError{Kind: c.Kind, State: state, Err: err}
	}
	return nil
}

// Close closes the channel and waits for its reader to stop, so no frame is
// delivered after Close returns. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = transition(c.state, evClose)
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client closing"); err != nil && !isClosedErr(err) {
			c.log.Debug("channel close", "err", err)
		}
		if cancel != nil {
			cancel()
		}
		select {
		case <-c.done:
		case <-time.After(writeTimeout):
			c.log.Warn("channel reader did not stop")
		}
	}
	c.notify(StateClosed, nil)
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1
}
