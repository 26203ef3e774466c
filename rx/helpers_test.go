package rx

import (
	"sync"
)

// recorder collects everything an Observer receives and flags any call made
// after a terminal one.
type recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	err       error
	completed bool
	late      int
}

func (r *recorder[T]) observer() Observer[T] {
	return Observer[T]{
		OnNext: func(v T) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.terminated() {
				r.late++
				return
			}
			r.values = append(r.values, v)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.terminated() {
				r.late++
				return
			}
			r.err = err
		},
		OnCompleted: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.terminated() {
				r.late++
				return
			}
			r.completed = true
		},
	}
}

func (r *recorder[T]) terminated() bool { return r.err != nil || r.completed }

func (r *recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recorder[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Late returns how many calls arrived after the stream terminated.
func (r *recorder[T]) Late() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.late
}

func kinds[T any](events []Event[T]) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind()
	}
	return out
}

func payloads[T any](events []Event[T]) []T {
	var out []T
	for _, e := range events {
		if v, ok := e.Payload(); ok {
			out = append(out, v)
		}
	}
	return out
}
