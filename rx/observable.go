package rx

import (
	"sync"
	"sync/atomic"
)

// Observer receives the values of an Observable followed by at most one
// terminal call. Nil callbacks are skipped.
type Observer[T any] struct {
	OnNext      func(T)
	OnError     func(error)
	OnCompleted func()
}

func (o Observer[T]) next(v T) {
	if o.OnNext != nil {
		o.OnNext(v)
	}
}

func (o Observer[T]) error(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

func (o Observer[T]) completed() {
	if o.OnCompleted != nil {
		o.OnCompleted()
	}
}

// Subscription detaches an Observer. Unsubscribe stops delivery and runs
// the stream's teardown before it returns; calling it again is a no-op.
// A value already being delivered on another goroutine is not waited for
// and may reach the observer after Unsubscribe returns; no later one does.
type Subscription interface {
	Unsubscribe()
}

// Observable is a cold sequence: every Subscribe starts an independent
// producer. Use Share to multicast one producer to many observers.
type Observable[T any] interface {
	Subscribe(o Observer[T]) Subscription
}

type observableFunc[T any] func(s *sink[T]) (teardown func())

// create builds an Observable from a function that starts producing into s
// and returns the teardown to run when the subscription ends.
func create[T any](fn func(s *sink[T]) (teardown func())) Observable[T] {
	return observableFunc[T](fn)
}

func (f observableFunc[T]) Subscribe(o Observer[T]) Subscription {
	s := &sink[T]{obs: o}
	s.setTeardown(f(s))
	return s
}

// sink enforces the observer contract for one subscription: nothing is
// delivered after a terminal call or Unsubscribe, and teardown runs once.
// Callers serialise next calls themselves. Next does not hold a lock across
// the callback, so an observer may unsubscribe from inside OnNext.
type sink[T any] struct {
	obs     Observer[T]
	stopped atomic.Bool

	mu       sync.Mutex
	disposed bool
	teardown func()
}

func (s *sink[T]) Next(v T) {
	if !s.stopped.Load() {
		s.obs.next(v)
	}
}

func (s *sink[T]) Error(err error) {
	if s.stopped.CompareAndSwap(false, true) {
		s.obs.error(err)
		s.dispose()
	}
}

func (s *sink[T]) Complete() {
	if s.stopped.CompareAndSwap(false, true) {
		s.obs.completed()
		s.dispose()
	}
}

func (s *sink[T]) Stopped() bool { return s.stopped.Load() }

func (s *sink[T]) Unsubscribe() {
	if s.stopped.CompareAndSwap(false, true) {
		s.dispose()
	}
}

func (s *sink[T]) setTeardown(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		fn()
		return
	}
	s.teardown = fn
	s.mu.Unlock()
}

func (s *sink[T]) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	fn := s.teardown
	s.teardown = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// forward returns an Observer that relays into s.
func (s *sink[T]) forward() Observer[T] {
	return Observer[T]{OnNext: s.Next, OnError: s.Error, OnCompleted: s.Complete}
}
