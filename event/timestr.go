package event

import (
	"fmt"
	"sync"
	"time"
)

// radix64 alphabet in ASCII order, so that fixed-width strings compare like
// the numbers they encode.
const radix64 = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// timeWidth holds 48 bits of milliseconds.
const timeWidth = 8

var radix64Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(radix64); i++ {
		idx[radix64[i]] = int8(i)
	}
	return idx
}()

// EncodeTime encodes epoch milliseconds as a fixed-width radix-64 string.
func EncodeTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	var b [timeWidth]byte
	for i := timeWidth - 1; i >= 0; i-- {
		b[i] = radix64[ms&63]
		ms >>= 6
	}
	return string(b[:])
}

// DecodeTime parses a string produced by EncodeTime.
func DecodeTime(s string) (int64, error) {
	if len(s) != timeWidth {
		return 0, fmt.Errorf("event: time %q: want %d chars", s, timeWidth)
	}
	var ms int64
	for i := 0; i < len(s); i++ {
		d := radix64Index[s[i]]
		if d < 0 {
			return 0, fmt.Errorf("event: time %q: invalid char %q", s, s[i])
		}
		ms = ms<<6 | int64(d)
	}
	return ms, nil
}

// Less reports whether stamp a sorts before stamp b.
func Less(a, b string) bool { return a < b }

// Clock stamps the records of one document context. Stamps never decrease,
// even if the wall clock steps back.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewClock returns a Clock reading now (time.Now if nil).
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Stamp returns the current radix-64 time.
func (c *Clock) Stamp() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms < c.last {
		ms = c.last
	}
	c.last = ms
	return EncodeTime(ms)
}
