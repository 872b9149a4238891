package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// aLongTimeAgo is a deadline in the past used to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// boundConn ties the deadlines go-smtp sets around every command to the
// context of the operation in progress. go-smtp replaces the deadline
// before each command and clears it afterwards, so a cancellation or
// deadline applied directly to the socket would be lost between commands.
type boundConn struct {
	net.Conn

	mu    sync.Mutex
	done  <-chan struct{}
	limit time.Time
}

// bind caps all deadlines at limit and the deadline of ctx, and aborts
// I/O once ctx is done. A zero limit leaves only the context deadline.
// The returned func removes the binding.
func (b *boundConn) bind(ctx context.Context, limit time.Time) func() {
	if d, ok := ctx.Deadline(); ok && (limit.IsZero() || d.Before(limit)) {
		limit = d
	}

	b.mu.Lock()
	b.done = ctx.Done()
	b.limit = limit
	b.mu.Unlock()
	_ = b.Conn.SetDeadline(b.clamp(time.Time{}))

	stop := context.AfterFunc(ctx, func() {
		_ = b.Conn.SetDeadline(aLongTimeAgo)
	})
	return func() {
		stop()
		b.mu.Lock()
		b.done = nil
		b.limit = time.Time{}
		b.mu.Unlock()
		_ = b.Conn.SetDeadline(time.Time{})
	}
}

func (b *boundConn) SetDeadline(t time.Time) error {
	return b.Conn.SetDeadline(b.clamp(t))
}

func (b *boundConn) SetReadDeadline(t time.Time) error {
	return b.Conn.SetReadDeadline(b.clamp(t))
}

func (b *boundConn) SetWriteDeadline(t time.Time) error {
	return b.Conn.SetWriteDeadline(b.clamp(t))
}

func (b *boundConn) clamp(t time.Time) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		select {
		case <-b.done:
			return aLongTimeAgo
		default:
		}
	}
	if !b.limit.IsZero() && (t.IsZero() || b.limit.Before(t)) {
		return b.limit
	}
	return t
}
