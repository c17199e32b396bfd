package btp

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/transport"
)

// Config configures both ends of a connection. Zero fields take the
// package defaults.
type Config struct {
	// SegmentSize is the largest packet the link carries. The smaller of
	// both sides' values is used.
	SegmentSize int

	// Window is the number of unacknowledged data segments this side
	// accepts. The smaller of both sides' values is used in both
	// directions.
	Window uint8

	// Versions lists the supported versions, newest first.
	Versions []uint8

	// AckInterval bounds how long a received data segment may stay
	// unacknowledged when there is no outbound traffic to carry the ack.
	AckInterval time.Duration

	// AckTimeout bounds how long sent data may stay unacknowledged.
	AckTimeout time.Duration

	QueueSize     int
	LoggerFactory logging.LoggerFactory
}

func (c Config) withDefaults() Config {
	if c.SegmentSize == 0 {
		c.SegmentSize = DefaultSegmentSize
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if len(c.Versions) == 0 {
		c.Versions = []uint8{Version}
	}
	if c.AckInterval == 0 {
		c.AckInterval = DefaultAckInterval
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Conn is an established BTP connection.
type Conn struct {
	link        Link
	config      Config
	log         logging.LeveledLogger
	version     uint8
	segmentSize int
	window      int

	ctx      context.Context
	cancel   context.CancelFunc
	inbox    chan []byte
	loopDone chan struct{}
	closedCh chan struct{}
	windowCh chan struct{}

	// sendMu keeps segments of one message contiguous; writeMu keeps
	// packets on the link in sequence number order.
	sendMu  sync.Mutex
	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	closeErr error

	txNext     uint8
	txAcked    uint8
	inflight   []uint8
	timeoutGen int
	timeout    *time.Timer

	rxNext    uint8
	rxLast    uint8
	rxUnacked bool
	rxPending int
	ackTimer  *time.Timer

	msg    []byte
	msgLen int
	inMsg  bool
}

// Dial performs the central side of the handshake over link. The link is
// closed if the handshake fails.
func Dial(ctx context.Context, link Link, config Config) (*Conn, error) {
	config = config.withDefaults()
	req := &HandshakeRequest{
		Versions: config.Versions,
		MTU:      uint16(min(config.SegmentSize, 0xFFFF)),
		Window:   config.Window,
	}
	if err := link.Write(ctx, req.Encode()); err != nil {
		link.Close()
		return nil, err
	}
	data, err := link.Read(ctx)
	if err != nil {
		link.Close()
		return nil, err
	}
	resp, err := DecodeHandshakeResponse(data)
	if err != nil {
		link.Close()
		return nil, err
	}
	if !slices.Contains(config.Versions, resp.Version) {
		link.Close()
		return nil, fmt.Errorf("%w: peer selected %d", ErrIncompatibleVersion, resp.Version)
	}
	size := min(int(resp.SegmentSize), config.SegmentSize)
	if size < minSegmentSize || resp.Window == 0 {
		link.Close()
		return nil, fmt.Errorf("%w: segment size %d, window %d", ErrMalformed, size, resp.Window)
	}
	return newConn(link, config, resp.Version, size, int(resp.Window)), nil
}

// Accept performs the peripheral side of the handshake over link. A
// request with no common version is answered with version 0 and fails
// with ErrIncompatibleVersion.
func Accept(ctx context.Context, link Link, config Config) (*Conn, error) {
	config = config.withDefaults()
	data, err := link.Read(ctx)
	if err != nil {
		link.Close()
		return nil, err
	}
	req, err := DecodeHandshakeRequest(data)
	if err != nil {
		link.Close()
		return nil, err
	}

	var version uint8
	for _, v := range req.Versions {
		if slices.Contains(config.Versions, v) {
			version = v
			break
		}
	}
	size := min(int(req.MTU), config.SegmentSize)
	window := min(req.Window, config.Window)
	resp := &HandshakeResponse{Version: version, SegmentSize: uint16(size), Window: window}
	if err := link.Write(ctx, resp.Encode()); err != nil {
		link.Close()
		return nil, err
	}
	if version == 0 {
		link.Close()
		return nil, fmt.Errorf("%w: peer offered %v", ErrIncompatibleVersion, req.Versions)
	}
	if size < minSegmentSize || window == 0 {
		link.Close()
		return nil, fmt.Errorf("%w: segment size %d, window %d", ErrMalformed, size, window)
	}
	return newConn(link, config, version, size, int(window)), nil
}

func newConn(link Link, config Config, version uint8, segmentSize, window int) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		link:        link,
		config:      config,
		version:     version,
		segmentSize: segmentSize,
		window:      window,
		ctx:         ctx,
		cancel:      cancel,
		inbox:       make(chan []byte, config.QueueSize),
		loopDone:    make(chan struct{}),
		closedCh:    make(chan struct{}),
		windowCh:    make(chan struct{}, 1),
		state:       StateConnected,
		txAcked:     0xFF,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("btp")
		c.log.Debugf("connected: version %d, segment size %d, window %d", version, segmentSize, window)
	}
	go c.readLoop()
	return c
}

// State returns the connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SegmentSize returns the negotiated segment size.
func (c *Conn) SegmentSize() int { return c.segmentSize }

// Window returns the negotiated window.
func (c *Conn) Window() int { return c.window }

// Open is a no-op; a Conn is open once Dial or Accept returns.
func (c *Conn) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return closedError(c.closeErr)
	}
	return nil
}

// Send segments msg and writes it, waiting for window space as needed.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.state == StateClosed {
		err := closedError(c.closeErr)
		c.mu.Unlock()
		return err
	}
	ackFirst := c.rxUnacked
	c.mu.Unlock()

	segs, err := Split(msg, c.segmentSize, ackFirst)
	if err != nil {
		return err
	}
	for i := range segs {
		if err := c.waitWindow(ctx); err != nil {
			return err
		}
		if err := c.write(ctx, &segs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) waitWindow(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.state == StateClosed {
			err := closedError(c.closeErr)
			c.mu.Unlock()
			return err
		}
		open := len(c.inflight) < c.window
		c.mu.Unlock()
		if open {
			return nil
		}
		select {
		case <-c.windowCh:
		case <-c.closedCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// write assigns the next sequence number to a data segment and sends it.
// A segment with room reserved for an ack carries one if owed.
func (c *Conn) write(ctx context.Context, seg *Segment) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.state == StateClosed {
		err := closedError(c.closeErr)
		c.mu.Unlock()
		return err
	}
	seg.Seq = c.txNext
	c.txNext++
	if seg.Flags.Has(FlagAck) {
		if c.rxUnacked {
			seg.Ack = c.rxLast
			c.rxAckedLocked()
		} else {
			seg.Flags &^= FlagAck
		}
	}
	c.inflight = append(c.inflight, seg.Seq)
	if len(c.inflight) == 1 {
		c.armTimeoutLocked()
	}
	b := seg.Encode()
	c.mu.Unlock()

	if c.log != nil {
		c.log.Tracef("tx seq %d flags 0x%02x, %d bytes", seg.Seq, uint8(seg.Flags), len(seg.Payload))
	}
	return c.link.Write(ctx, b)
}

// sendStandaloneAck acknowledges the newest received segment if that has
// not happened yet.
func (c *Conn) sendStandaloneAck() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.state == StateClosed || !c.rxUnacked {
		c.mu.Unlock()
		return
	}
	seg := Segment{Flags: FlagAck, Ack: c.rxLast, Seq: c.txNext}
	c.txNext++
	c.rxAckedLocked()
	b := seg.Encode()
	c.mu.Unlock()

	if err := c.link.Write(c.ctx, b); err != nil && c.log != nil {
		c.log.Warnf("standalone ack %d: %v", seg.Ack, err)
	}
}

func (c *Conn) rxAckedLocked() {
	c.rxUnacked = false
	c.rxPending = 0
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
}

// armTimeoutLocked restarts the ack timeout for the oldest inflight segment.
func (c *Conn) armTimeoutLocked() {
	c.timeoutGen++
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	if len(c.inflight) == 0 {
		return
	}
	gen := c.timeoutGen
	c.timeout = time.AfterFunc(c.config.AckTimeout, func() {
		c.mu.Lock()
		stale := gen != c.timeoutGen
		c.mu.Unlock()
		if !stale {
			c.shutdown(ErrAckTimeout)
		}
	})
}

func (c *Conn) readLoop() {
	defer close(c.loopDone)
	for {
		data, err := c.link.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.shutdown(err)
			}
			return
		}
		seg, err := DecodeSegment(data)
		if err != nil {
			if c.log != nil {
				c.log.Debugf("dropping packet: %v", err)
			}
			continue
		}
		msg, ackNow, err := c.receive(seg)
		if err != nil {
			if c.log != nil {
				c.log.Warnf("resetting connection: %v", err)
			}
			c.shutdown(err)
			return
		}
		if ackNow {
			c.sendStandaloneAck()
		}
		if msg == nil {
			continue
		}
		select {
		case c.inbox <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// receive applies one inbound segment. It returns a message when seg
// completes one, and whether the receive window is full and must be
// acknowledged at once.
func (c *Conn) receive(seg *Segment) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seg.Seq != c.rxNext {
		return nil, false, fmt.Errorf("%w: got sequence %d, want %d", ErrSequence, seg.Seq, c.rxNext)
	}
	c.rxNext++
	c.rxLast = seg.Seq
	c.rxUnacked = true

	if seg.Flags.Has(FlagAck) {
		if err := c.ackedLocked(seg.Ack); err != nil {
			return nil, false, err
		}
	}
	if !seg.Flags.IsData() {
		return nil, false, nil
	}

	c.rxPending++
	if c.ackTimer == nil {
		c.ackTimer = time.AfterFunc(c.config.AckInterval, c.sendStandaloneAck)
	}
	ackNow := c.rxPending >= c.window

	switch {
	case seg.Flags.Has(FlagBegin):
		if c.inMsg {
			return nil, false, fmt.Errorf("%w: begin segment %d inside a message", ErrSequence, seg.Seq)
		}
		c.inMsg = true
		c.msgLen = int(seg.MessageLength)
		c.msg = make([]byte, 0, c.msgLen)
	case !c.inMsg:
		return nil, false, fmt.Errorf("%w: continuation segment %d without begin", ErrSequence, seg.Seq)
	}

	c.msg = append(c.msg, seg.Payload...)
	if len(c.msg) > c.msgLen {
		return nil, false, fmt.Errorf("%w: message overruns %d bytes", ErrSequence, c.msgLen)
	}
	if !seg.Flags.Has(FlagEnd) {
		return nil, ackNow, nil
	}
	if len(c.msg) != c.msgLen {
		return nil, false, fmt.Errorf("%w: message ended at %d of %d bytes", ErrSequence, len(c.msg), c.msgLen)
	}
	msg := c.msg
	c.msg, c.msgLen, c.inMsg = nil, 0, false
	return msg, ackNow, nil
}

// ackedLocked releases inflight segments up to and including seq a.
func (c *Conn) ackedLocked(a uint8) error {
	if a == c.txAcked {
		return nil
	}
	base := c.txAcked + 1
	if a-base >= c.txNext-base {
		return fmt.Errorf("%w: ack %d for unsent sequence", ErrSequence, a)
	}
	c.txAcked = a
	n := 0
	for n < len(c.inflight) && c.inflight[n]-base <= a-base {
		n++
	}
	if n == 0 {
		return nil
	}
	c.inflight = c.inflight[n:]
	c.armTimeoutLocked()
	select {
	case c.windowCh <- struct{}{}:
	default:
	}
	return nil
}

// Read returns the next reassembled message. After a reset the error
// matches both transport.ErrClosed and the reason.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closedCh:
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, closedError(c.closeErr)
	}
}

// shutdown moves to Closed, discarding any partial message, and closes
// the link. It reports whether this call made the transition.
func (c *Conn) shutdown(reason error) bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateClosed
	c.closeErr = reason
	c.msg, c.inMsg = nil, false
	c.timeoutGen++
	if c.timeout != nil {
		c.timeout.Stop()
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
	}
	close(c.closedCh)
	c.mu.Unlock()

	c.cancel()
	_ = c.link.Close()
	if c.log != nil && reason != nil {
		c.log.Infof("connection closed: %v", reason)
	}
	return true
}

// Close shuts the connection down and waits for the read loop to exit.
func (c *Conn) Close() error {
	c.shutdown(nil)
	<-c.loopDone
	return nil
}

var _ transport.Transport = (*Conn)(nil)
