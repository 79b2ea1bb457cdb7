package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.once.Do(func() { close(f.stopped) }) }

func newFakeCountdown(clock *fakeClock, ticker *fakeTicker) *Countdown {
	return NewCountdown(zerolog.Nop(),
		WithClock(clock.Now),
		WithTicker(func(time.Duration) Ticker { return ticker }),
	)
}

func recv(t *testing.T, ch <-chan Tick) Tick {
	t.Helper()
	select {
	case tick, ok := <-ch:
		if !ok {
			t.Fatal("tick channel closed")
		}
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	return Tick{}
}

func TestRemaining(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	d := 600 * time.Second

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"at start", t0, d},
		{"midway", t0.Add(250 * time.Second), 350 * time.Second},
		{"exactly at deadline", t0.Add(d), 0},
		{"past deadline", t0.Add(605 * time.Second), 0},
		{"clock behind start", t0.Add(-5 * time.Second), d + 5*time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := Remaining(d, t0, tt.now)
			second := Remaining(d, t0, tt.now)
			if first != tt.want {
				t.Errorf("Remaining = %v, want %v", first, tt.want)
			}
			if first != second {
				t.Errorf("Remaining not pure: %v then %v", first, second)
			}
		})
	}
}

func TestCountdownSuspendResumeMatchesTicking(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	d := 600 * time.Second
	ctx := context.Background()

	// Ticking every second for 42 seconds.
	steady := &fakeClock{now: t0}
	steadyTicker := newFakeTicker()
	cd := newFakeCountdown(steady, steadyTicker)
	ticks := cd.Start(ctx, t0, d)
	last := recv(t, ticks)
	for i := 0; i < 42; i++ {
		steady.Advance(time.Second)
		steadyTicker.c <- steady.Now()
		last = recv(t, ticks)
	}
	cd.Stop()

	// Suspended for 42 seconds, then a single tick.
	jumped := &fakeClock{now: t0}
	jumpTicker := newFakeTicker()
	cd2 := newFakeCountdown(jumped, jumpTicker)
	ticks2 := cd2.Start(ctx, t0, d)
	recv(t, ticks2)
	jumped.Advance(42 * time.Second)
	jumpTicker.c <- jumped.Now()
	resumed := recv(t, ticks2)
	cd2.Stop()

	if last != resumed {
		t.Errorf("steady = %+v, resumed = %+v", last, resumed)
	}
	if want := 558 * time.Second; resumed.Remaining != want {
		t.Errorf("Remaining = %v, want %v", resumed.Remaining, want)
	}
}

func TestCountdownExpiresOnce(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0.Add(598 * time.Second)}
	ticker := newFakeTicker()
	cd := newFakeCountdown(clock, ticker)

	ticks := cd.Start(context.Background(), t0, 600*time.Second)
	if tick := recv(t, ticks); tick.Expired || tick.Remaining != 2*time.Second {
		t.Fatalf("first tick = %+v", tick)
	}

	clock.Advance(7 * time.Second) // T0+605s
	ticker.c <- clock.Now()

	tick := recv(t, ticks)
	if !tick.Expired || tick.Remaining != 0 {
		t.Fatalf("tick = %+v, want expired", tick)
	}
	if _, ok := <-ticks; ok {
		t.Fatal("received a tick after expiry")
	}
	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("ticker not stopped after expiry")
	}
}

func TestCountdownResumedPastDeadline(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0.Add(time.Hour)}
	cd := newFakeCountdown(clock, newFakeTicker())

	ticks := cd.Start(context.Background(), t0, 600*time.Second)
	var got []Tick
	for tick := range ticks {
		got = append(got, tick)
	}
	if len(got) != 1 || !got[0].Expired {
		t.Fatalf("ticks = %+v, want a single expired tick", got)
	}
}

func TestCountdownStop(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	ticker := newFakeTicker()
	cd := newFakeCountdown(clock, ticker)

	ticks := cd.Start(context.Background(), t0, 600*time.Second)
	recv(t, ticks)
	cd.Stop()

	if _, ok := <-ticks; ok {
		t.Fatal("channel still open after Stop")
	}
	select {
	case <-ticker.stopped:
	default:
		t.Fatal("ticker still running after Stop")
	}

	// Stopping twice is harmless.
	cd.Stop()
}
