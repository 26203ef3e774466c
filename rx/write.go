package rx

import (
	"context"
	"fmt"
	"strings"
	"sync"

	serial "github.com/luhtfiimanal/go-rx-serial"
)

// WriteTo subscribes src to a caller-owned device, writing each string as is.
func WriteTo(src Observable[string], dev serial.Device, onError func(error), onCompleted func()) (Subscription, error) {
	return subscribeTo(src, func() (Observer[string], error) { return AsWriteObserver(dev, onError, onCompleted) })
}

// WriteToFactory subscribes src to a device built by factory, see CreateObserver.
func WriteToFactory(src Observable[string], factory Factory, onError func(error), onCompleted func()) (Subscription, error) {
	return subscribeTo(src, func() (Observer[string], error) { return CreateWriteObserver(factory, onError, onCompleted) })
}

// WriteToName subscribes src to the named port, which is opened on the
// first value and disposed when src ends.
func WriteToName(src Observable[string], name string, onError func(error), onCompleted func(), opts ...serial.Option) (Subscription, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return WriteToFactory(src, PortFactory(name, opts...), onError, onCompleted)
}

// WriteLineTo subscribes src to a caller-owned device, writing each string
// followed by the device's line delimiter.
func WriteLineTo(src Observable[string], dev serial.Device, onError func(error), onCompleted func()) (Subscription, error) {
	return subscribeTo(src, func() (Observer[string], error) { return AsWriteLineObserver(dev, onError, onCompleted) })
}

func WriteLineToFactory(src Observable[string], factory Factory, onError func(error), onCompleted func()) (Subscription, error) {
	return subscribeTo(src, func() (Observer[string], error) { return CreateWriteLineObserver(factory, onError, onCompleted) })
}

func WriteLineToName(src Observable[string], name string, onError func(error), onCompleted func(), opts ...serial.Option) (Subscription, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return WriteLineToFactory(src, PortFactory(name, opts...), onError, onCompleted)
}

// WriteBytesTo subscribes a raw byte stream to a caller-owned device.
func WriteBytesTo(src Observable[[]byte], dev serial.Device, onError func(error), onCompleted func()) (Subscription, error) {
	return subscribeTo(src, func() (Observer[[]byte], error) { return AsObserver(dev, WriteBytes, onError, onCompleted) })
}

func subscribeTo[V any](src Observable[V], observer func() (Observer[V], error)) (Subscription, error) {
	if src == nil {
		return nil, argError("source")
	}
	o, err := observer()
	if err != nil {
		return nil, err
	}
	return src.Subscribe(o), nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: port name cannot be empty or whitespace", ErrInvalidArgument)
	}
	return nil
}

// Of returns a stream emitting values synchronously and then completing.
func Of[T any](values ...T) Observable[T] {
	return create(func(s *sink[T]) func() {
		for _, v := range values {
			if s.Stopped() {
				return nil
			}
			s.Next(v)
		}
		s.Complete()
		return nil
	})
}

// FromChannel returns a stream of the values received from ch. It
// completes when ch is closed or ctx is done. Each subscription starts its
// own receiving goroutine, so subscribers compete for values.
func FromChannel[T any](ctx context.Context, ch <-chan T) Observable[T] {
	return create(func(s *sink[T]) func() {
		stop := make(chan struct{})
		go func() {
			for {
				select {
				case <-stop:
					return
				case <-ctx.Done():
					s.Complete()
					return
				case v, ok := <-ch:
					if !ok {
						s.Complete()
						return
					}
					s.Next(v)
				}
			}
		}()
		var once sync.Once
		return func() { once.Do(func() { close(stop) }) }
	})
}
