package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrNotLoopback is returned for a control address outside the local host.
var ErrNotLoopback = errors.New("control address must be loopback")

// ConnOptions configures deadlines on a Conn. Zero disables a deadline.
type ConnOptions struct {
	ReadTimeout  time.Duration // Maximum wait for the next frame
	WriteTimeout time.Duration // Maximum time to flush one frame
}

// Conn is a framed control channel over a stream connection.
// Receive must be called from a single goroutine; Send is safe for
// concurrent use.
type Conn struct {
	nc   net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	opts ConnOptions
	wmu  sync.Mutex
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn, opts ConnOptions) *Conn {
	return &Conn{
		nc:   nc,
		r:    bufio.NewReader(nc),
		w:    bufio.NewWriter(nc),
		opts: opts,
	}
}

// Dial connects to a coordinator control endpoint.
func Dial(ctx context.Context, addr string, opts ConnOptions) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(nc, opts), nil
}

// Receive blocks until a full frame arrives or the read deadline passes.
// A *DecodeError means the frame was consumed and the caller may continue.
func (c *Conn) Receive() (Message, error) {
	if c.opts.ReadTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return nil, err
		}
	}
	return ReadFrame(c.r)
}

// Send writes and flushes one frame.
func (c *Conn) Send(msg Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.opts.WriteTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	if err := WriteFrame(c.w, msg); err != nil {
		return err
	}
	return c.w.Flush()
}

// Close closes the underlying connection, unblocking Receive.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// CheckLoopback rejects host:port addresses that would reach beyond the
// local host. An empty host means all interfaces and is rejected.
func CheckLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotLoopback, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%w: %q", ErrNotLoopback, addr)
	}
	return nil
}
