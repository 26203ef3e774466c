package rx

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/go-rx-serial"
)

// Factory constructs a device handle. Devices produced by a factory are
// owned by the stream or sink that called it.
type Factory func() (serial.Device, error)

// PortFactory returns a Factory building a closed serial.Port for name.
func PortFactory(name string, opts ...serial.Option) Factory {
	return func() (serial.Device, error) {
		return serial.New(name, opts...), nil
	}
}

// Connect returns the events of a caller-owned device. The stream never
// opens or closes dev and completes right after the Disposed event.
// Data is not read; use ConnectRead or AndRead for that.
func Connect(dev serial.Device) (Observable[Event[NoData]], error) {
	return ConnectRead[NoData](dev, nil)
}

// ConnectRead is Connect with read invoked once for every DataReceived
// event. Its result is emitted as a DataReceivedAndRead event immediately
// after the DataReceived event; a read error terminates the stream. A nil
// read behaves like Connect.
func ConnectRead[T any](dev serial.Device, read ReadFunc[T]) (Observable[Event[T]], error) {
	if absent(dev) {
		return nil, argError("device")
	}
	return connect(dev, read), nil
}

// ConnectFactory returns a stream that builds its own device for every
// subscription, opens it if necessary and disposes it when the
// subscription ends for any reason.
func ConnectFactory(factory Factory) (Observable[Event[NoData]], error) {
	return ConnectFactoryRead[NoData](factory, nil)
}

// ConnectFactoryRead is ConnectFactory with a read function, see ConnectRead.
// A factory that returns no device yields a single ErrInvalidOperation
// error per subscription.
func ConnectFactoryRead[T any](factory Factory, read ReadFunc[T]) (Observable[Event[T]], error) {
	if factory == nil {
		return nil, argError("factory")
	}
	return connectFactory(factory, read), nil
}

// ConnectName connects to the named port. Options select baud rate, parity,
// data bits and stop bits; unset settings take the serial package defaults.
func ConnectName(name string, opts ...serial.Option) (Observable[Event[NoData]], error) {
	return ConnectNameRead[NoData](name, nil, opts...)
}

// ConnectNameRead is ConnectName with a read function, see ConnectRead.
func ConnectNameRead[T any](name string, read ReadFunc[T], opts ...serial.Option) (Observable[Event[T]], error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return connectFactory(PortFactory(name, opts...), read), nil
}

func connect[T any](dev serial.Device, read ReadFunc[T]) Observable[Event[T]] {
	return create(func(s *sink[Event[T]]) func() {
		m := &merger[T]{
			dev:  dev,
			read: read,
			sink: s,
			log:  logger().With(zap.String("subscription", uuid.NewString()), zap.String("port", dev.Name())),
		}
		m.log.Debug("connected")

		cancels := []func(){
			dev.OnDataReceived(m.dataReceived),
			dev.OnErrorReceived(m.errorReceived),
			dev.OnPinChanged(m.pinChanged),
			dev.OnDisposed(m.disposed),
		}
		return func() {
			for _, cancel := range cancels {
				cancel()
			}
			m.log.Debug("disconnected")
		}
	})
}

// merger turns the four notification channels of one device into one
// ordered sequence. Notifications are emitted in the order they acquire
// mu; anything arriving after Disposed or a stream error is dropped.
type merger[T any] struct {
	mu   sync.Mutex
	dev  serial.Device
	read ReadFunc[T]
	sink *sink[Event[T]]
	log  *zap.Logger
}

func (m *merger[T]) dataReceived(kind serial.DataKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sink.Stopped() {
		return
	}
	e := dataReceived[T](m.dev, kind)
	m.sink.Next(e)
	if m.read == nil || m.sink.Stopped() {
		return
	}
	v, err := m.read(m.dev)
	if err != nil {
		m.log.Debug("read failed", zap.Error(err))
		m.sink.Error(err)
		return
	}
	m.sink.Next(dataRead(e, v))
}

func (m *merger[T]) errorReceived(kind serial.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sink.Stopped() {
		m.sink.Next(errorReceived[T](m.dev, kind))
	}
}

func (m *merger[T]) pinChanged(pin serial.PinChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sink.Stopped() {
		m.sink.Next(pinChanged[T](m.dev, pin))
	}
}

func (m *merger[T]) disposed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sink.Stopped() {
		return
	}
	m.sink.Next(newEvent[T](m.dev, Disposed))
	m.sink.Complete()
}

func connectFactory[T any](factory Factory, read ReadFunc[T]) Observable[Event[T]] {
	return create(func(s *sink[Event[T]]) func() {
		dev, err := factory()
		if err != nil {
			s.Error(err)
			return nil
		}
		if absent(dev) {
			s.Error(errNoDevice)
			return nil
		}

		// Subscribe before opening so input arriving right after open is not missed.
		inner := connect(dev, read).Subscribe(s.forward())
		if !dev.IsOpen() {
			if err := dev.Open(); err != nil {
				inner.Unsubscribe()
				dev.Close()
				s.Error(err)
				return nil
			}
		}
		return func() {
			inner.Unsubscribe()
			if err := dev.Close(); err != nil {
				logger().Debug("dispose failed", zap.String("port", dev.Name()), zap.Error(err))
			}
		}
	})
}

func logger() *zap.Logger { return zap.L().Named("rx") }
