package devicesim

import (
	"context"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/transport"
)

const laneQueueSize = 32

// mux splits one transport by session id: frames for the PASE session
// id go to the secure lane, unsecured frames to the plain lane. The
// handshake exchange reads only the plain lane, so secure frames that
// arrive while it winds down wait for the secure session.
type mux struct {
	tr       transport.Transport
	secureID uint16
	log      logging.LeveledLogger

	plain, secure *lane
	done          chan struct{}
}

func newMux(tr transport.Transport, secureID uint16, log logging.LeveledLogger) *mux {
	m := &mux{
		tr:       tr,
		secureID: secureID,
		log:      log,
		done:     make(chan struct{}),
	}
	m.plain = newLane(m)
	m.secure = newLane(m)
	return m
}

// run reads tr until ctx is done or tr fails, then closes both lanes.
func (m *mux) run(ctx context.Context) {
	defer close(m.done)
	defer m.plain.close()
	defer m.secure.close()
	for {
		data, err := m.tr.Read(ctx)
		if err != nil {
			if m.log != nil && ctx.Err() == nil {
				m.log.Debugf("devicesim: transport read: %v", err)
			}
			return
		}
		h, _, err := message.DecodeHeader(data)
		if err != nil {
			if m.log != nil {
				m.log.Debugf("devicesim: dropping datagram: %v", err)
			}
			continue
		}
		switch h.SessionID {
		case 0:
			m.plain.push(data)
		case m.secureID:
			m.secure.push(data)
		default:
			if m.log != nil {
				m.log.Debugf("devicesim: dropping frame for session %d", h.SessionID)
			}
		}
	}
}

// lane is one side of the mux. It satisfies transport.Transport; sends
// go straight to the shared transport.
type lane struct {
	m    *mux
	q    chan []byte
	once sync.Once
	stop chan struct{}
}

func newLane(m *mux) *lane {
	return &lane{m: m, q: make(chan []byte, laneQueueSize), stop: make(chan struct{})}
}

func (l *lane) push(data []byte) {
	select {
	case <-l.stop:
		return
	default:
	}
	select {
	case l.q <- data:
	default:
		if l.m.log != nil {
			l.m.log.Warnf("devicesim: lane full, dropping datagram")
		}
	}
}

func (l *lane) close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *lane) Open(context.Context) error { return nil }

// Close stops the lane. The shared transport stays open.
func (l *lane) Close() error {
	l.close()
	return nil
}

func (l *lane) Send(ctx context.Context, data []byte) error {
	select {
	case <-l.stop:
		return transport.ErrClosed
	default:
	}
	return l.m.tr.Send(ctx, data)
}

func (l *lane) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-l.q:
		return data, nil
	case <-l.stop:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
