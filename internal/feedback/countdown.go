package feedback

import (
	"sync"
	"time"

	"github.com/felixgeelhaar/checkpoint/internal/clock"
)

// DefaultAutoDismissSeconds is the auto-dismiss delay for correct answers
const DefaultAutoDismissSeconds = 10

// tickInterval is the countdown resolution
const tickInterval = time.Second

// Countdown decrements once per second and calls onExpire when it reaches zero.
// Callbacks run without the countdown lock held.
type Countdown struct {
	clock    clock.Clock
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	remaining int
	timer     clock.Timer
	running   bool
}

// NewCountdown creates a stopped countdown
func NewCountdown(c clock.Clock, onTick func(remaining int), onExpire func()) *Countdown {
	return &Countdown{clock: c, onTick: onTick, onExpire: onExpire}
}

// Start begins counting down from seconds. A non-positive value disables it.
func (c *Countdown) Start(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	if seconds <= 0 {
		return
	}
	c.remaining = seconds
	c.running = true
	c.timer = c.clock.AfterFunc(tickInterval, c.tick)
}

// Stop cancels a pending countdown
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Remaining returns the seconds left, 0 when stopped
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return 0
	}
	return c.remaining
}

// Running reports whether the countdown is active
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Countdown) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.running = false
	c.remaining = 0
}

func (c *Countdown) tick() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.remaining--
	remaining := c.remaining
	expired := remaining <= 0
	if expired {
		c.running = false
		c.timer = nil
	} else {
		c.timer = c.clock.AfterFunc(tickInterval, c.tick)
	}
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(remaining)
	}
	if expired && c.onExpire != nil {
		c.onExpire()
	}
}
