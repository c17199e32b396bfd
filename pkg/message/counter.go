package message

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
)

// CounterInitMax bounds the random initial counter value.
const CounterInitMax = 1 << 28

// Counter hands out strictly increasing outbound message counters.
type Counter struct {
	mu   sync.Mutex
	next uint32
	done bool
}

// NewCounter returns a counter starting at a random value in [1, 2^28].
func NewCounter() *Counter {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return NewCounterAt(1)
	}
	return NewCounterAt(binary.LittleEndian.Uint32(b[:])&(CounterInitMax-1) + 1)
}

// NewCounterAt returns a counter whose first value is start.
func NewCounterAt(start uint32) *Counter {
	return &Counter{next: start}
}

// Next returns the next counter value. Once the 32-bit space is used up the
// session must be re-established.
func (c *Counter) Next() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return 0, ErrCounterExhausted
	}
	v := c.next
	if v == math.MaxUint32 {
		c.done = true
	} else {
		c.next++
	}
	return v, nil
}

// Peek returns the value Next would hand out.
func (c *Counter) Peek() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
