package coordinator

import (
	"errors"
	"sync"

	"github.com/dreamware/slotmesh/internal/protocol"
)

var (
	// ErrPeerClosed is returned by Send after the peer was closed.
	ErrPeerClosed = errors.New("peer closed")
	// ErrQueueFull is returned by Send when the peer cannot keep up.
	ErrQueueFull = errors.New("peer send queue full")
)

// Peer is the hub's view of one connected client.
// Send must not block; a peer that cannot accept a message returns an error
// and is removed by the hub.
type Peer interface {
	ID() string
	Send(msg protocol.Message) error
	Close() error
}

// connPeer delivers messages to a control connection through a bounded FIFO
// drained by a single writer goroutine, so per-connection order is the order
// in which the hub enqueued.
type connPeer struct {
	id        string
	conn      *protocol.Conn
	queue     chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	onError   func(id string, err error)
}

func newConnPeer(id string, conn *protocol.Conn, queueSize int, onError func(string, error)) *connPeer {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &connPeer{
		id:      id,
		conn:    conn,
		queue:   make(chan protocol.Message, queueSize),
		done:    make(chan struct{}),
		onError: onError,
	}
}

func (p *connPeer) ID() string {
	return p.id
}

func (p *connPeer) Send(msg protocol.Message) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	select {
	case p.queue <- msg:
		return nil
	case <-p.done:
		return ErrPeerClosed
	default:
		return ErrQueueFull
	}
}

func (p *connPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return err
}

// writeLoop runs until the peer is closed or a write fails.
func (p *connPeer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.queue:
			if err := p.conn.Send(msg); err != nil {
				if p.onError != nil {
					p.onError(p.id, err)
				}
				return
			}
		}
	}
}
