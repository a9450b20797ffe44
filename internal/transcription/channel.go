package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
)

var (
	// ErrNotOpen is returned by Send when no connection is established.
	ErrNotOpen = errors.New("transcription channel not open")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("transcription channel closed")
)

// State is the connection state of a Channel.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	// StateCircuitOpen means dialing is suspended after repeated failures.
	StateCircuitOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateCircuitOpen:
		return "circuit_open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler receives connection events. Calls are made from a single goroutine
// in the order the events happen, so implementations should return quickly.
type Handler interface {
	OnOpen()
	// OnClose is called when an established connection drops. A reconnect
	// follows unless the channel was closed.
	OnClose(err error)
	OnMessage(payload []byte)
	// OnError reports failures that do not change the connection state,
	// such as a failed dial attempt.
	OnError(err error)
}

// Config contains transcription channel configuration
type Config struct {
	Endpoint         string
	Headers          map[string]string
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	BreakerFailures  uint32
	BreakerCooldown  time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
}

// ChannelStats represents channel statistics
type ChannelStats struct {
	State            string `json:"state"`
	Connects         uint64 `json:"connects"`
	Drops            uint64 `json:"drops"`
	DialFailures     uint64 `json:"dial_failures"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	BytesSent        uint64 `json:"bytes_sent"`
	LastError        string `json:"last_error,omitempty"`
}

// Channel is a self-healing websocket connection to the transcription
// backend. One binary message goes out per request and one text message
// comes back per reply.
type Channel struct {
	config  Config
	handler Handler
	logger  *slog.Logger
	dialer  *websocket.Dialer
	breaker *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	conn    *websocket.Conn
	state   State
	started bool
	closed  bool
	cancel  context.CancelFunc
	stats   ChannelStats

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewChannel creates a channel that reports events to handler.
func NewChannel(config Config, handler Handler, logger *slog.Logger) (*Channel, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.ReconnectInitial <= 0 {
		config.ReconnectInitial = 250 * time.Millisecond
	}
	if config.ReconnectMax < config.ReconnectInitial {
		config.ReconnectMax = 30 * time.Second
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = 30 * time.Second
	}
	if config.PongWait <= 0 {
		config.PongWait = 60 * time.Second
	}

	c := &Channel{
		config:  config,
		handler: handler,
		logger:  logger.With(slog.String("component", "transcription_channel")),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "transcription-dial",
		MaxRequests: 1,
		Timeout:     config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return c, nil
}

// Open starts connecting in the background. Events are delivered to the
// handler until Close is called.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return fmt.Errorf("transcription channel already opened")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	c.state = StateConnecting

	c.wg.Add(1)
	go c.run(runCtx)

	return nil
}

// Send writes one binary message. It fails with ErrNotOpen unless a
// connection is established.
func (c *Channel) Send(payload []byte) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if conn == nil || state != StateOpen {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err == nil {
		err = conn.WriteMessage(websocket.BinaryMessage, payload)
	}
	c.writeMu.Unlock()

	if err != nil {
		// the reader will notice and trigger the reconnect
		conn.Close()
		c.recordError(err)
		return fmt.Errorf("failed to send blob: %w", err)
	}

	c.mu.Lock()
	c.stats.MessagesSent++
	c.stats.BytesSent += uint64(len(payload))
	c.mu.Unlock()

	return nil
}

// Recycle drops the current connection, if any, and lets the channel
// reconnect. Replies still in flight on the old connection are lost.
func (c *Channel) Recycle() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		c.logger.Info("Recycling transcription connection")
		conn.Close()
	}
}

// Close shuts the connection down without reconnecting and waits for the
// background goroutine to exit. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, conn := c.cancel, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.sendCloseFrame(conn)
		conn.Close()
	}

	c.wg.Wait()
	c.setState(StateClosed)

	return nil
}

// sendCloseFrame tells the backend the close is intentional. The connection
// is torn down either way, so a failure is only logged.
func (c *Channel) sendCloseFrame(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.logger.Debug("Failed to send close frame", slog.String("error", err.Error()))
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetStats returns current channel statistics
func (c *Channel) GetStats() ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.State = c.state.String()
	return stats
}

func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	bo := c.newBackOff()

	for {
		conn, err := c.connect(ctx, bo)
		if err != nil {
			return
		}

		if ctx.Err() != nil {
			conn.Close()
			return
		}

		opened := time.Now()
		c.setConn(conn)
		c.logger.Info("Transcription connection opened",
			slog.String("endpoint", c.config.Endpoint))
		c.handler.OnOpen()

		err = c.serve(ctx, conn)
		c.setConn(nil)

		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.stats.Drops++
		c.mu.Unlock()

		c.logger.Warn("Transcription connection closed, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("uptime", time.Since(opened)))
		c.handler.OnClose(err)

		// a connection that keeps dropping right after the handshake must
		// not bypass the backoff
		if time.Since(opened) >= c.config.ReconnectMax {
			bo.Reset()
			continue
		}
		if !c.sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (c *Channel) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.ReconnectInitial
	bo.MaxInterval = c.config.ReconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// connect dials until it succeeds or ctx is cancelled.
func (c *Channel) connect(ctx context.Context, bo *backoff.ExponentialBackOff) (*websocket.Conn, error) {
	for {
		c.setState(StateConnecting)

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.dial(ctx)
		})
		if err == nil {
			bo.Reset()
			return result.(*websocket.Conn), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.setState(StateCircuitOpen)
		} else {
			c.mu.Lock()
			c.stats.DialFailures++
			c.mu.Unlock()
			c.recordError(err)
			c.handler.OnError(err)
		}

		wait := bo.NextBackOff()
		c.logger.Debug("Dial failed, backing off",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait))

		if !c.sleep(ctx, wait) {
			return nil, ctx.Err()
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	for k, v := range c.config.Headers {
		header.Set(k, v)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.config.Endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", c.config.Endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", c.config.Endpoint, err)
	}
	return conn, nil
}

// serve reads replies until the connection fails, pinging in the background.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	var pinger sync.WaitGroup
	pinger.Add(1)
	go func() {
		defer pinger.Done()
		c.keepalive(ctx, conn, done)
	}()
	defer func() {
		close(done)
		conn.Close()
		pinger.Wait()
	}()

	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		c.mu.Lock()
		c.stats.MessagesReceived++
		c.mu.Unlock()

		c.handler.OnMessage(data)
	}
}

func (c *Channel) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err == nil {
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("Keepalive ping failed", slog.String("error", err.Error()))
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		d = c.config.ReconnectMax
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if conn != nil {
		c.state = StateOpen
		c.stats.Connects++
	} else if !c.closed {
		c.state = StateConnecting
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) recordError(err error) {
	c.mu.Lock()
	c.stats.LastError = err.Error()
	c.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
