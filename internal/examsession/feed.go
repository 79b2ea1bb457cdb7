package examsession

import "sync"

// Feed fans a stream of values out to subscribers. Each subscriber holds only
// the most recent value; a slow reader skips intermediate ones.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[chan T]struct{}
	last   T
	hasVal bool
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[chan T]struct{})}
}

// Subscribe returns a channel receiving published values, starting with the
// latest one, and a function that unsubscribes and closes it.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	if f.hasVal {
		ch <- f.last
	}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
			f.mu.Unlock()
		})
	}
}

// Publish delivers v to every subscriber without blocking.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last, f.hasVal = v, true
	for ch := range f.subs {
		select {
		case ch <- v:
		default:
			// drop the stale value and replace it
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

// Close unsubscribes everyone.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
