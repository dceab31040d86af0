package session

import (
	"sync"
	"time"
)

// Ticker is the part of time.Ticker the clock needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Clock counts down the seconds left in an attempt. It owns one goroutine
// between Start and Stop (or expiry).
type Clock struct {
	mu        sync.Mutex
	remaining int
	started   bool
	stopped   bool
	stop      chan struct{}
	once      sync.Once

	onTick   func(remaining int)
	onExpire func()
}

// NewClock returns a stopped clock with the given budget. onTick runs after
// every decrement that leaves time on the clock; onExpire runs once when the
// budget reaches zero. Both run on the clock goroutine.
func NewClock(seconds int, onTick func(int), onExpire func()) *Clock {
	if onTick == nil {
		onTick = func(int) {}
	}
	if onExpire == nil {
		onExpire = func() {}
	}
	return &Clock{
		remaining: seconds,
		stop:      make(chan struct{}),
		onTick:    onTick,
		onExpire:  onExpire,
	}
}

// Start launches the countdown. Calling Start twice, or after Stop, does nothing.
func (c *Clock) Start(newTicker TickerFunc) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	if c.remaining <= 0 {
		c.remaining = 0
		c.stopped = true
		c.mu.Unlock()
		go c.onExpire()
		return
	}
	c.mu.Unlock()

	if newTicker == nil {
		newTicker = NewRealTicker
	}
	t := newTicker(time.Second)

	go func() {
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C():
				remaining, expired, ok := c.tick()
				if !ok {
					return
				}
				if expired {
					c.onExpire()
					return
				}
				c.onTick(remaining)
			}
		}
	}()
}

func (c *Clock) tick() (remaining int, expired, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return c.remaining, false, false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		c.stopped = true
		return 0, true, true
	}
	return c.remaining, false, true
}

// Stop halts the countdown. No decrement happens after Stop returns, so
// onExpire cannot fire for a clock stopped with time left. Safe to call more
// than once and from any goroutine, including from inside onTick.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.stop) })
}

// Remaining returns the seconds left.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}
