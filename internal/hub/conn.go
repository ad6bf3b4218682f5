package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/park285/cheese-arena/internal/match"
)

// DefaultSendBuffer is the per-connection queue length.
const DefaultSendBuffer = 64

// Conn is one attached client. The hub only ever enqueues; a transport drains
// Send() and stops when Done() closes.
type Conn struct {
	ID       string
	Code     string
	Role     match.Role
	Identity match.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	reason    string
	detach    sync.Once
}

// NewConn allocates a connection with a bounded send queue.
func NewConn(code string, role match.Role, id match.Identity, buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Conn{
		ID:       uuid.NewString(),
		Code:     code,
		Role:     role,
		Identity: id,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) Send() <-chan []byte   { return c.send }
func (c *Conn) Done() <-chan struct{} { return c.done }

// Reason returns why the connection was closed, empty while open.
func (c *Conn) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// enqueue never blocks. A full queue means the client stalled; it is closed
// and will resync from a snapshot when it reconnects. overflow reports that case.
func (c *Conn) enqueue(frame []byte) (overflow bool) {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return false
	default:
		c.Close(reasonOverflow)
		return true
	}
}

const reasonOverflow = "send queue overflow"

// Close marks the connection finished. Safe to call more than once.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}
