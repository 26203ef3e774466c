package rx

import (
	serial "github.com/luhtfiimanal/go-rx-serial"
)

// WatchData emits the payload of every DataReceivedAndRead event that is
// not empty. Strings, byte slices and types with a Len method are empty
// when their length is zero; other payloads are never empty.
func WatchData[T any](src Observable[Event[T]]) (Observable[T], error) {
	if src == nil {
		return nil, argError("event stream")
	}
	return project(src, func(s *sink[T], e Event[T]) {
		if v, ok := e.Payload(); ok && !isEmpty(v) {
			s.Next(v)
		}
	}), nil
}

// WatchErrors emits the error kind of every ErrorReceived event.
func WatchErrors[T any](src Observable[Event[T]]) (Observable[serial.ErrorKind], error) {
	if src == nil {
		return nil, argError("event stream")
	}
	return project(src, func(s *sink[serial.ErrorKind], e Event[T]) {
		if e.Kind() == ErrorReceived {
			s.Next(e.ErrorKind())
		}
	}), nil
}

// WatchPinChanges emits the pin of every PinChanged event.
func WatchPinChanges[T any](src Observable[Event[T]]) (Observable[serial.PinChange], error) {
	if src == nil {
		return nil, argError("event stream")
	}
	return project(src, func(s *sink[serial.PinChange], e Event[T]) {
		if e.Kind() == PinChanged {
			s.Next(e.PinChange())
		}
	}), nil
}

// WatchDisposing emits one value when the Disposed event is observed and
// then completes.
func WatchDisposing[T any](src Observable[Event[T]]) (Observable[struct{}], error) {
	if src == nil {
		return nil, argError("event stream")
	}
	return project(src, func(s *sink[struct{}], e Event[T]) {
		if e.Kind() == Disposed {
			s.Next(struct{}{})
			s.Complete()
		}
	}), nil
}

// project subscribes to src and lets fn decide what to emit for each value.
// Errors and completion are passed through.
func project[T, U any](src Observable[T], fn func(s *sink[U], v T)) Observable[U] {
	return create(func(s *sink[U]) func() {
		sub := src.Subscribe(Observer[T]{
			OnNext: func(v T) {
				if !s.Stopped() {
					fn(s, v)
				}
			},
			OnError:     s.Error,
			OnCompleted: s.Complete,
		})
		return sub.Unsubscribe
	})
}

func isEmpty(v any) bool {
	switch v := v.(type) {
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case interface{ Len() int }:
		return v.Len() == 0
	}
	return false
}
