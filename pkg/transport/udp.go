package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/message"
)

// UDPConfig configures the UDP transport.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new connection will be created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":5540").
	// Ignored if Conn is provided.
	ListenAddr string

	// Peer is the device address. When nil the transport answers whoever
	// sent the most recent datagram, which is how the device side runs.
	Peer net.Addr

	// QueueSize bounds the receive queue. Default: DefaultQueueSize.
	QueueSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// UDP is a datagram transport bound to one peer. A read loop started by
// Open feeds a bounded queue drained by Read.
type UDP struct {
	config UDPConfig
	conn   net.PacketConn
	q      *inbox
	wg     sync.WaitGroup
	log    logging.LeveledLogger

	mu     sync.RWMutex
	peer   net.Addr
	opened bool
	closed bool
}

// NewUDP creates a UDP transport. The socket is bound by Open.
func NewUDP(config UDPConfig) *UDP {
	u := &UDP{config: config, peer: config.Peer}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}
	u.q = newInbox(config.QueueSize, u.log)
	return u
}

// DialUDP resolves address and returns an unopened transport aimed at it.
func DialUDP(address string, config UDPConfig) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	config.Peer = addr
	return NewUDP(config), nil
}

// Open binds the socket and starts the read loop.
func (u *UDP) Open(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	if u.opened {
		return nil
	}

	conn := u.config.Conn
	if conn == nil {
		addr := u.config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		var lc net.ListenConfig
		c, err := lc.ListenPacket(ctx, "udp", addr)
		if err != nil {
			return err
		}
		conn = c
	}
	u.conn = conn
	u.opened = true

	if u.log != nil {
		u.log.Infof("UDP transport on %s, peer %v", conn.LocalAddr(), u.peer)
	}
	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Close closes the socket and waits for the read loop to exit.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	opened := u.opened
	u.mu.Unlock()

	u.q.close()
	if !opened {
		return nil
	}
	_ = u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

// Send writes one datagram to the peer.
func (u *UDP) Send(ctx context.Context, data []byte) error {
	u.mu.RLock()
	closed, opened, peer, conn := u.closed, u.opened, u.peer, u.conn
	u.mu.RUnlock()
	switch {
	case closed:
		return ErrClosed
	case !opened:
		return ErrNotOpen
	case peer == nil:
		return ErrNoPeer
	case len(data) > message.MaxUDPMessageSize:
		return ErrMessageTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if _, err := conn.WriteTo(data, peer); err != nil {
		if u.log != nil {
			u.log.Warnf("send to %v failed: %v", peer, err)
		}
		return err
	}
	return nil
}

// Read returns the next datagram from the peer.
func (u *UDP) Read(ctx context.Context) ([]byte, error) {
	u.mu.RLock()
	opened := u.opened || u.closed
	u.mu.RUnlock()
	if !opened {
		return nil, ErrNotOpen
	}
	return u.q.pop(ctx)
}

// LocalAddr returns the bound address, or nil before Open.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Peer returns the current peer address.
func (u *UDP) Peer() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.peer
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, message.MaxUDPMessageSize)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.q.closed():
				return
			default:
			}
			if u.log != nil {
				u.log.Warnf("UDP read error: %v", err)
			}
			continue
		}
		if n == 0 {
			continue
		}

		u.mu.Lock()
		switch {
		case u.config.Peer == nil:
			u.peer = addr
		case addr.String() != u.peer.String():
			u.mu.Unlock()
			if u.log != nil {
				u.log.Debugf("ignoring %d bytes from unexpected %v", n, addr)
			}
			continue
		}
		u.mu.Unlock()

		if u.log != nil {
			u.log.Tracef("received %d bytes from %v", n, addr)
		}
		u.q.push(append([]byte{}, buf[:n]...))
	}
}
