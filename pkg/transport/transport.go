// Package transport carries whole message datagrams between a controller
// and one device. UDP, the in-memory Pipe and BTP connections all satisfy
// Transport.
package transport

import (
	"context"
	"sync"

	"github.com/pion/logging"
)

// DefaultPort is the operational and commissioning UDP port.
const DefaultPort = 5540

// DefaultQueueSize bounds datagrams waiting for Read.
const DefaultQueueSize = 32

// Transport moves datagrams to and from a single peer. Message boundaries
// are preserved.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Send(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
}

// inbox is the bounded receive queue shared by the datagram transports.
// A full queue drops the newest datagram.
type inbox struct {
	ch      chan []byte
	closeCh chan struct{}
	once    sync.Once
	log     logging.LeveledLogger
}

func newInbox(size int, log logging.LeveledLogger) *inbox {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &inbox{
		ch:      make(chan []byte, size),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

func (q *inbox) push(data []byte) {
	select {
	case q.ch <- data:
	default:
		if q.log != nil {
			q.log.Warnf("receive queue full, dropping %d bytes", len(data))
		}
	}
}

func (q *inbox) pop(ctx context.Context) ([]byte, error) {
	select {
	case data := <-q.ch:
		return data, nil
	case <-q.closeCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *inbox) close() {
	q.once.Do(func() { close(q.closeCh) })
}

func (q *inbox) closed() <-chan struct{} {
	return q.closeCh
}
