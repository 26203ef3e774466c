package rx

import (
	"sync"

	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/go-rx-serial"
)

// WriteFunc writes one outbound value to a device.
type WriteFunc[V any] func(dev serial.Device, v V) error

func WriteString(dev serial.Device, s string) error {
	_, err := dev.WriteString(s)
	return err
}

func WriteLine(dev serial.Device, line string) error { return dev.WriteLine(line) }

func WriteBytes(dev serial.Device, b []byte) error {
	_, err := dev.Write(b)
	return err
}

// CreateObserver returns an Observer that writes every value to a device it
// owns. The factory is called on the first value and the device is opened
// if it is not open yet. A factory returning no device reports
// ErrInvalidOperation through onError. Write failures, upstream errors and
// completion dispose the device; write failures and upstream errors are
// passed to onError, completion calls onCompleted.
func CreateObserver[V any](factory Factory, write WriteFunc[V], onError func(error), onCompleted func()) (Observer[V], error) {
	if factory == nil {
		return Observer[V]{}, argError("factory")
	}
	if write == nil {
		return Observer[V]{}, argError("write function")
	}
	w := &ownedWriter[V]{factory: factory, write: write, onError: onError, onCompleted: onCompleted}
	return Observer[V]{OnNext: w.next, OnError: w.fail, OnCompleted: w.complete}, nil
}

// AsObserver returns an Observer writing to a caller-owned device. Values
// arriving while the device is not open are dropped. The device is never
// opened or disposed.
func AsObserver[V any](dev serial.Device, write WriteFunc[V], onError func(error), onCompleted func()) (Observer[V], error) {
	if absent(dev) {
		return Observer[V]{}, argError("device")
	}
	if write == nil {
		return Observer[V]{}, argError("write function")
	}
	w := &borrowedWriter[V]{dev: dev, write: write, onError: onError, onCompleted: onCompleted}
	return Observer[V]{OnNext: w.next, OnError: w.fail, OnCompleted: w.complete}, nil
}

func CreateWriteObserver(factory Factory, onError func(error), onCompleted func()) (Observer[string], error) {
	return CreateObserver(factory, WriteString, onError, onCompleted)
}

func CreateWriteLineObserver(factory Factory, onError func(error), onCompleted func()) (Observer[string], error) {
	return CreateObserver(factory, WriteLine, onError, onCompleted)
}

func AsWriteObserver(dev serial.Device, onError func(error), onCompleted func()) (Observer[string], error) {
	return AsObserver(dev, WriteString, onError, onCompleted)
}

func AsWriteLineObserver(dev serial.Device, onError func(error), onCompleted func()) (Observer[string], error) {
	return AsObserver(dev, WriteLine, onError, onCompleted)
}

type ownedWriter[V any] struct {
	factory     Factory
	write       WriteFunc[V]
	onError     func(error)
	onCompleted func()

	mu   sync.Mutex
	dev  serial.Device
	done bool
}

func (w *ownedWriter[V]) next(v V) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	err := w.writeLocked(v)
	if err == nil {
		w.mu.Unlock()
		return
	}
	w.done = true
	w.disposeLocked()
	w.mu.Unlock()
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *ownedWriter[V]) writeLocked(v V) error {
	if w.dev == nil {
		dev, err := w.factory()
		if err != nil {
			return err
		}
		if absent(dev) {
			return errNoDevice
		}
		w.dev = dev
	}
	if !w.dev.IsOpen() {
		if err := w.dev.Open(); err != nil {
			return err
		}
	}
	return w.write(w.dev, v)
}

func (w *ownedWriter[V]) fail(err error) {
	if !w.finish() {
		return
	}
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *ownedWriter[V]) complete() {
	if !w.finish() {
		return
	}
	if w.onCompleted != nil {
		w.onCompleted()
	}
}

func (w *ownedWriter[V]) finish() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false
	}
	w.done = true
	w.disposeLocked()
	return true
}

func (w *ownedWriter[V]) disposeLocked() {
	if w.dev == nil {
		return
	}
	if err := w.dev.Close(); err != nil {
		logger().Debug("dispose failed", zap.String("port", w.dev.Name()), zap.Error(err))
	}
}

type borrowedWriter[V any] struct {
	dev         serial.Device
	write       WriteFunc[V]
	onError     func(error)
	onCompleted func()

	mu   sync.Mutex
	done bool
}

func (w *borrowedWriter[V]) next(v V) {
	w.mu.Lock()
	if w.done || !w.dev.IsOpen() {
		w.mu.Unlock()
		return
	}
	err := w.write(w.dev, v)
	if err != nil {
		w.done = true
	}
	w.mu.Unlock()
	if err != nil && w.onError != nil {
		w.onError(err)
	}
}

func (w *borrowedWriter[V]) fail(err error) {
	if w.finish() && w.onError != nil {
		w.onError(err)
	}
}

func (w *borrowedWriter[V]) complete() {
	if w.finish() && w.onCompleted != nil {
		w.onCompleted()
	}
}

func (w *borrowedWriter[V]) finish() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false
	}
	w.done = true
	return true
}
