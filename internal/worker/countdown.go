package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickInterval is how often a running countdown re-evaluates remaining time.
const TickInterval = time.Second

// Remaining is the time left of a session that started at startedAt and lasts
// duration, observed at now. It never goes below zero.
func Remaining(duration time.Duration, startedAt, now time.Time) time.Duration {
	left := duration - now.Sub(startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Tick is one countdown emission. The last tick of a countdown has Expired set.
type Tick struct {
	Remaining time.Duration
	Expired   bool
}

// Ticker is the periodic trigger driving a countdown.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// CountdownOption configures a Countdown.
type CountdownOption func(*Countdown)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) CountdownOption {
	return func(c *Countdown) { c.now = now }
}

// WithTicker replaces the ticker factory.
func WithTicker(newTicker func(time.Duration) Ticker) CountdownOption {
	return func(c *Countdown) { c.newTicker = newTicker }
}

// Countdown emits the remaining time of one session per second, recomputed
// from the persisted start timestamp on every tick. Missed ticks (process
// suspended, slow consumer) therefore never skew the result.
type Countdown struct {
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	log       zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCountdown creates a stopped countdown.
func NewCountdown(log zerolog.Logger, opts ...CountdownOption) *Countdown {
	c := &Countdown{
		now: time.Now,
		newTicker: func(d time.Duration) Ticker {
			return realTicker{t: time.NewTicker(d)}
		},
		log: log.With().Str("component", "countdown").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the countdown's notion of the current time.
func (c *Countdown) Now() time.Time {
	return c.now()
}

// Start begins ticking for a session and returns the tick stream. The first
// tick is emitted immediately. When remaining time reaches zero a single
// expired tick is sent and the channel is closed. A countdown already
// running is stopped first.
func (c *Countdown) Start(ctx context.Context, startedAt time.Time, duration time.Duration) <-chan Tick {
	c.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	out := make(chan Tick, 1)

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	ticker := c.newTicker(TickInterval)

	go func() {
		defer close(done)
		defer close(out)
		defer ticker.Stop()

		for {
			left := Remaining(duration, startedAt, c.now())
			tick := Tick{Remaining: left, Expired: left == 0}

			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}

			if tick.Expired {
				c.log.Info().
					Time("started_at", startedAt).
					Dur("duration", duration).
					Msg("Countdown expired")
				return
			}

			select {
			case <-ticker.C():
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Stop tears down the running countdown and waits for its goroutine to exit.
func (c *Countdown) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
