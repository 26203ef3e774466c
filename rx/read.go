package rx

import (
	serial "github.com/luhtfiimanal/go-rx-serial"
)

// ReadFunc reads a payload from a device after a data notification. It runs
// on the goroutine delivering the notification and may block on I/O.
type ReadFunc[T any] func(dev serial.Device) (T, error)

func ReadLine(dev serial.Device) (string, error) { return dev.ReadLine() }

func ReadExisting(dev serial.Device) (string, error) { return dev.ReadExisting() }

func ReadByte(dev serial.Device) (byte, error) { return dev.ReadByte() }

func ReadChar(dev serial.Device) (rune, error) { return dev.ReadChar() }

// ReadTo returns a ReadFunc reading up to delim.
func ReadTo(delim string) ReadFunc[string] {
	return func(dev serial.Device) (string, error) { return dev.ReadTo(delim) }
}

// AndRead decorates an existing event stream: every event is re-emitted with
// payload type T and each DataReceived event is followed by a
// DataReceivedAndRead event carrying read's result. Events that already
// carry read data cannot be re-typed and fail the stream with
// ErrInvalidOperation.
func AndRead[S, T any](src Observable[Event[S]], read ReadFunc[T]) (Observable[Event[T]], error) {
	if src == nil {
		return nil, argError("event stream")
	}
	if read == nil {
		return nil, argError("read function")
	}
	return create(func(s *sink[Event[T]]) func() {
		sub := src.Subscribe(Observer[Event[S]]{
			OnNext: func(e Event[S]) {
				if s.Stopped() {
					return
				}
				out, err := castEvent[T](e)
				if err != nil {
					s.Error(err)
					return
				}
				s.Next(out)
				if e.Kind() != DataReceived || s.Stopped() {
					return
				}
				v, err := read(e.Device())
				if err != nil {
					s.Error(err)
					return
				}
				s.Next(dataRead(e, v))
			},
			OnError:     s.Error,
			OnCompleted: s.Complete,
		})
		return sub.Unsubscribe
	}), nil
}

func AndReadLine[S any](src Observable[Event[S]]) (Observable[Event[string]], error) {
	return AndRead(src, ReadLine)
}

func AndReadExisting[S any](src Observable[Event[S]]) (Observable[Event[string]], error) {
	return AndRead(src, ReadExisting)
}

func AndReadTo[S any](src Observable[Event[S]], delim string) (Observable[Event[string]], error) {
	return AndRead(src, ReadTo(delim))
}

func AndReadByte[S any](src Observable[Event[S]]) (Observable[Event[byte]], error) {
	return AndRead(src, ReadByte)
}

func AndReadChar[S any](src Observable[Event[S]]) (Observable[Event[rune]], error) {
	return AndRead(src, ReadChar)
}
