package cooldown

import (
	"sync"
	"time"
)

// Bucket is the per-connection frame guard. It holds up to capacity frame
// credits and earns one back every interval/capacity. A frame that arrives
// with no credit left is refused; the caller answers it instead of running it.
type Bucket struct {
	mu       sync.Mutex
	capacity int
	credits  int
	step     time.Duration
	earned   time.Time
	refused  int
}

// NewBucket creates a full bucket that earns back capacity credits per
// interval. Non-positive arguments fall back to one credit per second.
func NewBucket(capacity int, interval time.Duration) *Bucket {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	step := interval / time.Duration(capacity)
	if step <= 0 {
		step = time.Nanosecond
	}

	return &Bucket{
		capacity: capacity,
		credits:  capacity,
		step:     step,
		earned:   time.Now(),
	}
}

// Take spends one credit at now. When none is left it reports false and how
// long until the next credit is earned.
func (b *Bucket) Take(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	if b.credits == 0 {
		b.refused++
		return false, b.step - now.Sub(b.earned)
	}
	b.credits--
	return true, 0
}

// Refused returns how many frames the bucket has turned away.
func (b *Bucket) Refused() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refused
}

func (b *Bucket) refill(now time.Time) {
	if b.credits >= b.capacity {
		b.earned = now
		return
	}

	elapsed := now.Sub(b.earned)
	if elapsed < b.step {
		return
	}

	n := elapsed / b.step
	if n >= time.Duration(b.capacity-b.credits) {
		b.credits = b.capacity
		b.earned = now
		return
	}
	b.credits += int(n)
	b.earned = b.earned.Add(n * b.step)
}
