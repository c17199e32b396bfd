package transport

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures network behavior simulation.
// Use this to test protocol behavior under adverse network conditions.
type NetworkCondition struct {
	// DropRate is the probability of dropping a packet (0.0 - 1.0).
	DropRate float64

	// DelayMin and DelayMax bound a uniformly distributed send delay.
	DelayMin time.Duration
	DelayMax time.Duration

	// DuplicateRate is the probability of duplicating a packet (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// ManualProcess disables background delivery; call Tick or Process.
	ManualProcess bool

	// ProcessInterval is how often the auto-processor delivers packets.
	// Default: 1ms
	ProcessInterval time.Duration

	// Seed makes drop and duplicate decisions reproducible. Zero uses the clock.
	Seed int64

	LoggerFactory logging.LoggerFactory
}

// Pipe is an in-memory, message-preserving link between two endpoints,
// built on pion's test.Bridge. Endpoint(0) and Endpoint(1) are Transports;
// Conn0 and Conn1 expose the raw net.Conn ends for links such as BTP. A
// side is used either as an Endpoint or as a raw Conn, not both.
type Pipe struct {
	bridge *test.Bridge
	ends   [2]*PipeEndpoint

	mu        sync.Mutex
	condition NetworkCondition
	rng       *rand.Rand
	closed    bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPipe creates a pipe with background delivery.
func NewPipe() *Pipe {
	return NewPipeWithConfig(PipeConfig{})
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Pipe{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewSource(seed)),
		stopCh: make(chan struct{}),
	}

	var log logging.LeveledLogger
	if config.LoggerFactory != nil {
		log = config.LoggerFactory.NewLogger("transport-pipe")
	}
	p.ends[0] = &PipeEndpoint{pipe: p, conn: p.bridge.GetConn0(), q: newInbox(0, log)}
	p.ends[1] = &PipeEndpoint{pipe: p, conn: p.bridge.GetConn1(), q: newInbox(0, log)}

	if !config.ManualProcess {
		interval := config.ProcessInterval
		if interval == 0 {
			interval = time.Millisecond
		}
		p.wg.Add(1)
		go p.autoProcess(interval)
	}
	return p
}

func (p *Pipe) autoProcess(interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			for p.bridge.Tick() > 0 {
			}
		}
	}
}

// SetCondition configures loss, delay and duplication for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Endpoint returns side 0 or 1 as a Transport.
func (p *Pipe) Endpoint(i int) *PipeEndpoint {
	return p.ends[i&1]
}

// Conn0 returns the raw connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn { return &conditionedConn{Conn: p.bridge.GetConn0(), pipe: p} }

// Conn1 returns the raw connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn { return &conditionedConn{Conn: p.bridge.GetConn1(), pipe: p} }

// Tick delivers at most one queued packet per direction.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued packets.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close closes both endpoints and stops delivery once their read loops
// have exited.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for _, e := range p.ends {
		_ = e.Close()
	}
	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()

	// The bridge releases a closed conn's reader on its next Tick.
	done := make(chan struct{})
	go func() {
		for _, e := range p.ends {
			e.wg.Wait()
		}
		close(done)
	}()
	for drained := false; !drained; {
		p.bridge.Tick()
		select {
		case <-done:
			drained = true
		case <-time.After(time.Millisecond):
		}
	}

	close(p.stopCh)
	p.wg.Wait()
	if err0 != nil {
		return err0
	}
	return err1
}

// write applies the network condition and then writes b to conn.
func (p *Pipe) write(conn net.Conn, b []byte) (int, error) {
	p.mu.Lock()
	cond := p.condition
	drop := cond.DropRate > 0 && p.rng.Float64() < cond.DropRate
	dup := cond.DuplicateRate > 0 && p.rng.Float64() < cond.DuplicateRate
	delay := cond.DelayMin
	if cond.DelayMax > cond.DelayMin {
		delay += time.Duration(p.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
	}
	p.mu.Unlock()

	if drop {
		return len(b), nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if dup {
		if _, err := conn.Write(b); err != nil {
			return 0, err
		}
	}
	return conn.Write(b)
}

// conditionedConn routes writes through the pipe's network condition.
// Closing it only stops writes; the bridge end is released by Pipe.Close
// so that delivery never targets a closed reader.
type conditionedConn struct {
	net.Conn
	pipe   *Pipe
	closed atomic.Bool
}

func (c *conditionedConn) Write(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	return c.pipe.write(c.Conn, b)
}

func (c *conditionedConn) Close() error {
	c.closed.Store(true)
	return nil
}

// PipeEndpoint is one side of a Pipe.
type PipeEndpoint struct {
	pipe *Pipe
	conn net.Conn
	q    *inbox

	mu     sync.Mutex
	opened bool
	closed bool
	wg     sync.WaitGroup
}

// Open starts the endpoint's read loop.
func (e *PipeEndpoint) Open(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if !e.opened {
		e.opened = true
		e.wg.Add(1)
		go e.readLoop()
	}
	return nil
}

func (e *PipeEndpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return
		}
		select {
		case <-e.q.closed():
			continue
		default:
		}
		e.q.push(append([]byte{}, buf[:n]...))
	}
}

// Send writes one datagram to the other endpoint.
func (e *PipeEndpoint) Send(ctx context.Context, data []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.pipe.write(e.conn, data)
	return err
}

// Read returns the next datagram from the other endpoint.
func (e *PipeEndpoint) Read(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	opened := e.opened || e.closed
	e.mu.Unlock()
	if !opened {
		return nil, ErrNotOpen
	}
	return e.q.pop(ctx)
}

// Close closes this side. The underlying bridge connection stays open
// and drained until the Pipe itself is closed.
func (e *PipeEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.q.close()
	}
	return nil
}

var (
	_ Transport = (*UDP)(nil)
	_ Transport = (*PipeEndpoint)(nil)
)
