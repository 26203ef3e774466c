package rx

import (
	"sync"
)

// Share multicasts src. The first subscriber connects to src, later
// subscribers join the same upstream subscription, and the upstream is
// unsubscribed when the last subscriber leaves. For a stream built from a
// factory this means one device, opened once and disposed once, serves
// every subscriber. After the upstream terminates the next subscriber
// connects again.
func Share[T any](src Observable[T]) (Observable[T], error) {
	if src == nil {
		return nil, argError("stream")
	}
	return &shared[T]{src: src}, nil
}

type shareEntry[T any] struct {
	id  uint64
	obs Observer[T]
}

type shared[T any] struct {
	src Observable[T]

	mu        sync.Mutex
	gen       uint64 // incremented whenever the upstream connection ends
	nextID    uint64
	subs      []shareEntry[T]
	connected bool
	conn      Subscription
}

func (sh *shared[T]) Subscribe(o Observer[T]) Subscription {
	sh.mu.Lock()
	sh.nextID++
	id := sh.nextID
	sh.subs = append(sh.subs, shareEntry[T]{id: id, obs: o})
	connect := !sh.connected
	sh.connected = true
	gen := sh.gen
	sh.mu.Unlock()

	if connect {
		conn := sh.src.Subscribe(Observer[T]{
			OnNext: sh.next,
			OnError: func(err error) {
				for _, o := range sh.finish(gen) {
					o.error(err)
				}
			},
			OnCompleted: func() {
				for _, o := range sh.finish(gen) {
					o.completed()
				}
			},
		})
		sh.mu.Lock()
		if sh.gen == gen {
			sh.conn = conn
			conn = nil
		}
		sh.mu.Unlock()
		if conn != nil {
			// Terminated or abandoned while connecting.
			conn.Unsubscribe()
		}
	}

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() { sh.remove(gen, id) })
	})
}

func (sh *shared[T]) next(v T) {
	sh.mu.Lock()
	subs := make([]Observer[T], len(sh.subs))
	for i, e := range sh.subs {
		subs[i] = e.obs
	}
	sh.mu.Unlock()
	for _, o := range subs {
		o.next(v)
	}
}

// finish ends connection gen and returns the observers to notify.
func (sh *shared[T]) finish(gen uint64) []Observer[T] {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.gen != gen {
		return nil
	}
	subs := make([]Observer[T], len(sh.subs))
	for i, e := range sh.subs {
		subs[i] = e.obs
	}
	sh.reset()
	return subs
}

func (sh *shared[T]) remove(gen, id uint64) {
	sh.mu.Lock()
	if sh.gen != gen {
		sh.mu.Unlock()
		return
	}
	for i, e := range sh.subs {
		if e.id == id {
			sh.subs = append(sh.subs[:i:i], sh.subs[i+1:]...)
			break
		}
	}
	if len(sh.subs) > 0 {
		sh.mu.Unlock()
		return
	}
	conn := sh.conn
	sh.reset()
	sh.mu.Unlock()
	if conn != nil {
		conn.Unsubscribe()
	}
}

// reset drops all subscribers and the connection. Callers hold mu.
func (sh *shared[T]) reset() {
	sh.subs = nil
	sh.conn = nil
	sh.connected = false
	sh.gen++
}

type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }
