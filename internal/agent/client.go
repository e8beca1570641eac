package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dreamware/slotmesh/internal/protocol"
)

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrRejected is returned by WaitReady when the coordinator refused the
	// registration.
	ErrRejected = errors.New("registration rejected")
	// ErrAlreadyDialed is returned by a second Dial.
	ErrAlreadyDialed = errors.New("client already dialed")
)

// ClientConfig configures the control channel client.
type ClientConfig struct {
	Addr              string        // Coordinator control address
	InstanceID        string        // Identity sent in Register; "unknown" asks for one
	HeartbeatInterval time.Duration // Idle keepalive; 0 disables
	ReadTimeout       time.Duration // Read deadline per frame; 0 disables
	WriteTimeout      time.Duration
	SendQueue         int // Outbound queue length
}

// Client is the instance side of the control channel.
//
// Sends never block the caller: messages go to a bounded queue drained by a
// writer goroutine, and anything that cannot be queued is logged and dropped.
// Inbound messages other than Registered and Heartbeat are passed to the
// handler on the receive goroutine.
type Client struct {
	cfg     ClientConfig
	handler func(protocol.Message)
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *protocol.Conn
	id        string
	connected bool
	rejectErr error

	queue     chan protocol.Message
	stop      chan struct{}
	done      chan struct{} // closed when the connection ends
	ready     chan struct{} // closed on Registered or rejection
	readyOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a disconnected client. handler may be nil.
func NewClient(cfg ClientConfig, handler func(protocol.Message), logger *slog.Logger) *Client {
	if cfg.InstanceID == "" {
		cfg.InstanceID = protocol.UnknownInstance
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if handler == nil {
		handler = func(protocol.Message) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "client"),
		id:      cfg.InstanceID,
		queue:   make(chan protocol.Message, cfg.SendQueue),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// Dial connects, starts the receive and writer goroutines and sends Register.
// A failed dial leaves the client disconnected; the caller decides whether
// to retry.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyDialed
	}
	c.mu.Unlock()

	conn, err := protocol.Dial(ctx, c.cfg.Addr, protocol.ConnOptions{
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("connected to coordinator", "addr", c.cfg.Addr, "instance_id", c.cfg.InstanceID)

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn)

	c.Send(protocol.Register{InstanceID: c.cfg.InstanceID})
	return nil
}

// Connected reports whether the control connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// InstanceID returns the identity recorded by the coordinator once
// registered, or the configured one before that.
func (c *Client) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Done is closed when the connection ends for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WaitReady blocks until the coordinator acknowledged the registration, the
// connection ended or ctx expired. It returns the recorded instance id.
func (c *Client) WaitReady(ctx context.Context) (string, error) {
	select {
	case <-c.ready:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.rejectErr != nil {
			return "", c.rejectErr
		}
		return c.id, nil
	case <-c.done:
		return "", ErrNotConnected
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for registration: %w", ctx.Err())
	}
}

// Send queues msg without blocking. It reports whether the message was queued.
func (c *Client) Send(msg protocol.Message) bool {
	if !c.Connected() {
		c.logger.Debug("dropped message, not connected", "message", msg.String())
		return false
	}
	select {
	case c.queue <- msg:
		return true
	default:
		c.logger.Warn("dropped message, send queue full", "message", msg.String())
		return false
	}
}

// Log reports a credit-affecting event under the current instance id.
func (c *Client) Log(event, detail string) {
	c.Send(protocol.Log{InstanceID: c.InstanceID(), Event: event, Detail: detail})
}

// JackpotWon reports a local jackpot trigger.
func (c *Client) JackpotWon(value protocol.Amount) {
	c.Send(protocol.JackpotWon{Value: value})
}

// RequestJackpot asks the coordinator for the current counter.
func (c *Client) RequestJackpot() {
	c.Send(protocol.RequestJackpot{})
}

func (c *Client) readLoop(conn *protocol.Conn) {
	defer c.wg.Done()
	defer c.markDisconnected()

	for {
		msg, err := conn.Receive()
		if err != nil {
			if protocol.IsRecoverable(err) {
				c.logger.Warn("dropped undecodable message", "error", err)
				continue
			}
			select {
			case <-c.stop:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					c.logger.Warn("connection lost", "error", err)
				} else {
					c.logger.Info("coordinator closed the connection")
				}
			}
			return
		}

		switch m := msg.(type) {
		case protocol.Registered:
			c.mu.Lock()
			c.id = m.InstanceID
			c.mu.Unlock()
			c.logger.Info("registered", "instance_id", m.InstanceID)
			c.readyOnce.Do(func() { close(c.ready) })
		case protocol.Heartbeat:
		case protocol.Error:
			c.logger.Warn("coordinator error", "code", m.Code, "text", m.Text)
			if m.Code == protocol.CodeDuplicateInstance {
				c.mu.Lock()
				c.rejectErr = fmt.Errorf("%w: %s", ErrRejected, m.Text)
				c.mu.Unlock()
				c.readyOnce.Do(func() { close(c.ready) })
			}
			c.handler(m)
		default:
			c.handler(msg)
		}
	}
}

func (c *Client) writeLoop(conn *protocol.Conn) {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg := <-c.queue:
			if err := conn.Send(msg); err != nil {
				c.logger.Warn("write failed", "message", msg.String(), "error", err)
				_ = conn.Close()
				return
			}
		case <-tick:
			if err := conn.Send(protocol.Heartbeat{}); err != nil {
				c.logger.Warn("heartbeat failed", "error", err)
				_ = conn.Close()
				return
			}
		case <-c.stop:
			c.flush(conn)
			return
		case <-c.done:
			return
		}
	}
}

// flush writes whatever is still queued and says goodbye.
func (c *Client) flush(conn *protocol.Conn) {
	for {
		select {
		case msg := <-c.queue:
			if err := conn.Send(msg); err != nil {
				return
			}
		default:
			_ = conn.Send(protocol.Disconnect{})
			return
		}
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()
	if wasConnected {
		close(c.done)
	}
}

// Close sends a best-effort Disconnect and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		close(c.stop)
		if conn == nil {
			return
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		// Let the writer flush, then unblock the reader.
		select {
		case <-c.done:
		case <-time.After(c.closeGrace()):
		}
		err = conn.Close()
		<-done
	})
	return err
}

func (c *Client) closeGrace() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return 500 * time.Millisecond
}
