package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/slotmesh/internal/protocol"
)

// ServerConfig configures the control channel listener.
type ServerConfig struct {
	Addr         string        // host:port, loopback only
	ReadTimeout  time.Duration // Per-frame read deadline; clients heartbeat inside it
	WriteTimeout time.Duration // Per-frame write deadline
	SendQueue    int           // Per-peer outbound queue length
}

// Server accepts control connections and feeds their messages to a Hub.
type Server struct {
	cfg    ServerConfig
	hub    *Hub
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a server for hub. Call Listen, then Serve.
func NewServer(cfg ServerConfig, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		hub:    hub,
		logger: logger.With("component", "server"),
	}
}

// Listen binds the control address. A bind failure is fatal for the
// coordinator and is returned to the caller.
func (s *Server) Listen() error {
	if err := protocol.CheckLoopback(s.cfg.Addr); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("control channel listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the accept loop until ctx is cancelled or Shutdown is called.
// Transient accept errors are logged and retried with backoff.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve called before listen")
	}

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		if !isLoopbackAddr(nc.RemoteAddr()) {
			s.logger.Warn("rejected non-loopback connection", "remote", nc.RemoteAddr().String())
			_ = nc.Close()
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handleConn(nc)
		}()
	}
}

func (s *Server) handleConn(nc net.Conn) {
	connID := uuid.NewString()
	conn := protocol.NewConn(nc, protocol.ConnOptions{
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	})
	logger := s.logger.With("conn_id", connID)

	peer := newConnPeer(connID, conn, s.cfg.SendQueue, func(id string, err error) {
		logger.Warn("write failed", "error", err)
		s.hub.Detach(id)
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		peer.writeLoop()
	}()

	logger.Debug("connection accepted", "remote", conn.RemoteAddr())
	s.hub.Attach(peer)
	defer s.hub.Detach(connID)
	if s.isClosed() {
		return
	}

	for {
		msg, err := conn.Receive()
		if err != nil {
			if protocol.IsRecoverable(err) {
				logger.Warn("dropped undecodable message", "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Info("connection lost", "error", err)
			}
			return
		}
		s.hub.Handle(connID, msg)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops accepting, closes every client and waits for the
// connection goroutines. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	s.hub.CloseAll()
	s.wg.Wait()
	s.logger.Info("control channel stopped")
}

func isLoopbackAddr(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return true
	}
	return tcp.IP.IsLoopback()
}
