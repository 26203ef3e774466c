package rx

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/go-rx-serial"
	"github.com/luhtfiimanal/go-rx-serial/serialtest"
)

func TestConnect_NilArguments(t *testing.T) {
	_, err := Connect(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	var port *serial.Port
	_, err = Connect(port)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ConnectRead[string](nil, ReadLine)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ConnectFactory(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ConnectFactoryRead[string](nil, ReadLine)
	require.ErrorIs(t, err, ErrInvalidArgument)

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err = ConnectName(name)
		require.ErrorIs(t, err, ErrInvalidArgument)
		_, err = ConnectNameRead(name, ReadLine)
		require.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestConnect_MergesInArrivalOrder(t *testing.T) {
	dev := serialtest.NewOpen("COM1")
	events, err := Connect(dev)
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	sub := events.Subscribe(rec.observer())
	defer sub.Unsubscribe()

	dev.RaisePin(serial.PinCTS)
	dev.RaiseData(serial.DataChars)
	dev.RaiseError(serial.ErrorFrame)
	dev.RaisePin(serial.PinRing)
	require.NoError(t, dev.Close())

	got := rec.Values()
	require.Equal(t, []EventKind{PinChanged, DataReceived, ErrorReceived, PinChanged, Disposed}, kinds(got))
	require.True(t, rec.Completed())
	require.NoError(t, rec.Err())

	require.Equal(t, serial.PinCTS, got[0].PinChange())
	require.Equal(t, serial.DataChars, got[1].DataKind())
	require.Equal(t, serial.ErrorFrame, got[2].ErrorKind())
	require.Equal(t, serial.PinRing, got[3].PinChange())
	for i, e := range got {
		require.Equal(t, "COM1", e.Port())
		require.Same(t, dev, e.Device())
		_, ok := e.Payload()
		require.False(t, ok)
		if i > 0 {
			require.False(t, e.Time().Before(got[i-1].Time()))
		}
	}
	require.Empty(t, payloads(got))
}

func TestConnect_NeverManagesCallerDevice(t *testing.T) {
	dev := serialtest.New("COM1")
	events, err := Connect(dev)
	require.NoError(t, err)

	sub := events.Subscribe(Observer[Event[NoData]]{})
	require.False(t, dev.IsOpen())
	require.Zero(t, dev.Opens())

	require.NoError(t, dev.Open())
	sub.Unsubscribe()
	require.True(t, dev.IsOpen())
	require.Zero(t, dev.Closes())
}

func TestConnect_UnsubscribeStopsDelivery(t *testing.T) {
	dev := serialtest.NewOpen("COM1")
	events, err := Connect(dev)
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	sub := events.Subscribe(rec.observer())
	dev.RaiseData(serial.DataChars)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.Zero(t, dev.Handlers())

	dev.RaiseData(serial.DataChars)
	require.NoError(t, dev.Close())

	require.Equal(t, []EventKind{DataReceived}, kinds(rec.Values()))
	require.False(t, rec.Completed())
}

func TestConnect_UnsubscribeFromCallback(t *testing.T) {
	dev := serialtest.NewOpen("COM1")
	events, err := Connect(dev)
	require.NoError(t, err)

	var sub Subscription
	var seen []EventKind
	sub = events.Subscribe(Observer[Event[NoData]]{
		OnNext: func(e Event[NoData]) {
			seen = append(seen, e.Kind())
			sub.Unsubscribe()
		},
	})

	dev.RaisePin(serial.PinDSR)
	dev.RaisePin(serial.PinDSR)
	require.Equal(t, []EventKind{PinChanged}, seen)
	require.Zero(t, dev.Handlers())
}

func TestConnect_NothingAfterDisposed(t *testing.T) {
	dev := serialtest.NewOpen("COM1")
	events, err := Connect(dev)
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	events.Subscribe(rec.observer())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				dev.RaiseData(serial.DataChars)
				dev.RaiseError(serial.ErrorOverrun)
				dev.RaisePin(serial.PinBreak)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dev.Close()
	}()
	wg.Wait()

	got := rec.Values()
	require.NotEmpty(t, got)
	require.Equal(t, Disposed, got[len(got)-1].Kind())
	disposed := 0
	for _, e := range got {
		if e.Kind() == Disposed {
			disposed++
		}
	}
	require.Equal(t, 1, disposed)
	require.True(t, rec.Completed())
	require.Zero(t, rec.Late())
}

func TestConnectFactory_NoDevice(t *testing.T) {
	calls := 0
	events, err := ConnectFactory(func() (serial.Device, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, err)
	require.Zero(t, calls)

	for i := 1; i <= 2; i++ {
		rec := &recorder[Event[NoData]]{}
		events.Subscribe(rec.observer())
		require.Empty(t, rec.Values())
		require.ErrorIs(t, rec.Err(), ErrInvalidOperation)
		require.False(t, rec.Completed())
		require.Equal(t, i, calls)
	}
}

func TestConnectFactory_TypedNilDevice(t *testing.T) {
	events, err := ConnectFactory(func() (serial.Device, error) {
		var dev *serialtest.Device
		return dev, nil
	})
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	events.Subscribe(rec.observer())
	require.Empty(t, rec.Values())
	require.ErrorIs(t, rec.Err(), ErrInvalidOperation)
}

func TestConnectFactory_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	events, err := ConnectFactory(func() (serial.Device, error) { return nil, boom })
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	events.Subscribe(rec.observer())
	require.Equal(t, boom, rec.Err())
}

func TestConnectFactory_OpenError(t *testing.T) {
	boom := errors.New("device busy")
	dev := serialtest.New("COM1")
	dev.SetOpenError(boom)

	events, err := ConnectFactory(func() (serial.Device, error) { return dev, nil })
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	events.Subscribe(rec.observer())
	require.Equal(t, boom, rec.Err())
	require.Empty(t, rec.Values())
	require.True(t, dev.Disposed())
	require.Zero(t, dev.Handlers())
}

func TestConnectFactory_OwnsDevice(t *testing.T) {
	dev := serialtest.New("COM1")
	events, err := ConnectFactory(func() (serial.Device, error) { return dev, nil })
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	sub := events.Subscribe(rec.observer())
	require.True(t, dev.IsOpen())
	require.Equal(t, 1, dev.Opens())

	dev.RaiseData(serial.DataChars)

	sub.Unsubscribe()
	require.True(t, dev.Disposed())
	require.Equal(t, 1, dev.Closes())
	require.Zero(t, dev.Handlers())

	sub.Unsubscribe()
	require.Equal(t, 1, dev.Closes())

	require.Equal(t, []EventKind{DataReceived}, kinds(rec.Values()))
	require.False(t, rec.Completed())
}

func TestConnectFactory_KeepsOpenDevice(t *testing.T) {
	dev := serialtest.NewOpen("COM1")
	events, err := ConnectFactory(func() (serial.Device, error) { return dev, nil })
	require.NoError(t, err)

	sub := events.Subscribe(Observer[Event[NoData]]{})
	require.Zero(t, dev.Opens())
	sub.Unsubscribe()
	require.True(t, dev.Disposed())
}

func TestConnectFactory_DisposesOnError(t *testing.T) {
	boom := errors.New("read failed")
	dev := serialtest.New("COM1")
	events, err := ConnectFactoryRead(func() (serial.Device, error) { return dev, nil }, ReadLine)
	require.NoError(t, err)

	rec := &recorder[Event[string]]{}
	events.Subscribe(rec.observer())

	dev.SetReadError(boom)
	dev.RaiseData(serial.DataChars)

	require.Equal(t, boom, rec.Err())
	require.True(t, dev.Disposed())
	require.Zero(t, dev.Handlers())
}

func TestConnectFactory_CompletesOnDispose(t *testing.T) {
	dev := serialtest.New("COM1")
	events, err := ConnectFactory(func() (serial.Device, error) { return dev, nil })
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	sub := events.Subscribe(rec.observer())

	// The device going away on its own still ends the stream.
	require.NoError(t, dev.Close())
	require.Equal(t, []EventKind{Disposed}, kinds(rec.Values()))
	require.True(t, rec.Completed())

	sub.Unsubscribe()
	require.Zero(t, rec.Late())
}

func TestConnectFactory_ColdSubscriptions(t *testing.T) {
	var devices []*serialtest.Device
	events, err := ConnectFactory(func() (serial.Device, error) {
		dev := serialtest.New("COM1")
		devices = append(devices, dev)
		return dev, nil
	})
	require.NoError(t, err)

	first := &recorder[Event[NoData]]{}
	second := &recorder[Event[NoData]]{}
	sub1 := events.Subscribe(first.observer())
	sub2 := events.Subscribe(second.observer())
	require.Len(t, devices, 2)
	require.NotSame(t, devices[0], devices[1])

	devices[0].RaisePin(serial.PinCD)
	require.Len(t, first.Values(), 1)
	require.Empty(t, second.Values())

	sub1.Unsubscribe()
	require.True(t, devices[0].Disposed())
	require.False(t, devices[1].Disposed())
	sub2.Unsubscribe()
	require.True(t, devices[1].Disposed())
}

func TestConnectName_OpenFailureIsStreamError(t *testing.T) {
	events, err := ConnectName("/dev/rx-serial-does-not-exist", serial.WithBaudRate(115200))
	require.NoError(t, err)

	rec := &recorder[Event[NoData]]{}
	events.Subscribe(rec.observer())
	require.Error(t, rec.Err())
	require.NotErrorIs(t, rec.Err(), ErrInvalidArgument)
	require.Empty(t, rec.Values())
}

func TestEvent_String(t *testing.T) {
	dev := serialtest.NewOpen("COM7")
	e := dataRead(dataReceived[NoData](dev, serial.DataChars), "hi")
	s := e.String()
	require.Contains(t, s, "DataReceivedAndRead")
	require.Contains(t, s, "COM7")
	require.Contains(t, s, "Payload = hi")

	require.Contains(t, errorReceived[NoData](dev, serial.ErrorRXParity).String(), "ErrorKind = RXParity")
	require.Contains(t, pinChanged[NoData](dev, serial.PinBreak).String(), "PinChange = Break")
}

func TestCastEvent_RejectsReadData(t *testing.T) {
	dev := serialtest.NewOpen("COM1")
	src := dataReceived[NoData](dev, serial.DataChars)

	cast, err := castEvent[int](src)
	require.NoError(t, err)
	require.Equal(t, DataReceived, cast.Kind())
	require.Equal(t, src.Time(), cast.Time())

	_, err = castEvent[int](dataRead(src, "line"))
	require.ErrorIs(t, err, ErrInvalidOperation)
}
