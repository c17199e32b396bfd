package btp

import (
	"context"
	"net"
	"sync"

	"github.com/backkem/matterctl/pkg/transport"
)

// Link is the characteristic pair a BTP connection runs over: every
// Write is one indication or write request, every Read returns one.
type Link interface {
	Write(ctx context.Context, b []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// ConnLink adapts a packet-preserving net.Conn, such as one end of a
// transport.Pipe, into a Link.
type ConnLink struct {
	conn    net.Conn
	packets chan []byte
	done    chan struct{}
	once    sync.Once
}

// NewConnLink starts reading from conn.
func NewConnLink(conn net.Conn) *ConnLink {
	l := &ConnLink{
		conn:    conn,
		packets: make(chan []byte, DefaultQueueSize),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *ConnLink) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			l.shutdown()
			return
		}
		select {
		case l.packets <- append([]byte{}, buf[:n]...):
		case <-l.done:
			return
		}
	}
}

func (l *ConnLink) Write(ctx context.Context, b []byte) error {
	select {
	case <-l.done:
		return transport.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := l.conn.Write(b)
	return err
}

func (l *ConnLink) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-l.packets:
		return b, nil
	case <-l.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *ConnLink) shutdown() {
	l.once.Do(func() { close(l.done) })
}

// Close closes the underlying connection.
func (l *ConnLink) Close() error {
	l.shutdown()
	return l.conn.Close()
}

var _ Link = (*ConnLink)(nil)
