package rx

import (
	"testing"

	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/go-rx-serial"
	"github.com/luhtfiimanal/go-rx-serial/serialtest"
)

func TestShare_NilSource(t *testing.T) {
	_, err := Share[int](nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestShare_OneDeviceForAllSubscribers(t *testing.T) {
	var devices []*serialtest.Device
	events, err := ConnectFactoryRead(func() (serial.Device, error) {
		dev := serialtest.New("COM1")
		devices = append(devices, dev)
		return dev, nil
	}, ReadLine)
	require.NoError(t, err)
	shared, err := Share(events)
	require.NoError(t, err)

	first := &recorder[Event[string]]{}
	second := &recorder[Event[string]]{}
	sub1 := shared.Subscribe(first.observer())
	sub2 := shared.Subscribe(second.observer())
	require.Len(t, devices, 1)
	dev := devices[0]
	require.Equal(t, 1, dev.Opens())

	dev.Receive("ping\n")
	require.Equal(t, []string{"ping"}, payloads(first.Values()))
	require.Equal(t, []string{"ping"}, payloads(second.Values()))

	sub1.Unsubscribe()
	require.False(t, dev.Disposed())
	dev.Receive("pong\n")
	require.Equal(t, []string{"ping"}, payloads(first.Values()))
	require.Equal(t, []string{"ping", "pong"}, payloads(second.Values()))

	sub2.Unsubscribe()
	sub2.Unsubscribe()
	require.True(t, dev.Disposed())
	require.Equal(t, 1, dev.Closes())

	third := shared.Subscribe(Observer[Event[string]]{})
	defer third.Unsubscribe()
	require.Len(t, devices, 2)
}

func TestShare_CompletionReachesEverySubscriber(t *testing.T) {
	dev := serialtest.NewOpen("COM1")
	events, err := Connect(dev)
	require.NoError(t, err)
	shared, err := Share(events)
	require.NoError(t, err)

	first := &recorder[Event[NoData]]{}
	second := &recorder[Event[NoData]]{}
	shared.Subscribe(first.observer())
	shared.Subscribe(second.observer())
	require.Equal(t, 4, dev.Handlers())

	require.NoError(t, dev.Close())
	require.Equal(t, []EventKind{Disposed}, kinds(first.Values()))
	require.Equal(t, []EventKind{Disposed}, kinds(second.Values()))
	require.True(t, first.Completed())
	require.True(t, second.Completed())
	require.Zero(t, dev.Handlers())
}

func TestShare_ErrorReachesLateSubscriberOnReconnect(t *testing.T) {
	calls := 0
	events, err := ConnectFactory(func() (serial.Device, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, err)
	shared, err := Share(events)
	require.NoError(t, err)

	first := &recorder[Event[NoData]]{}
	second := &recorder[Event[NoData]]{}
	shared.Subscribe(first.observer())
	shared.Subscribe(second.observer())

	require.ErrorIs(t, first.Err(), ErrInvalidOperation)
	require.ErrorIs(t, second.Err(), ErrInvalidOperation)
	require.Equal(t, 2, calls)
}

func TestShare_WatchFiltersOnOneDevice(t *testing.T) {
	var devices []*serialtest.Device
	events, err := ConnectFactoryRead(func() (serial.Device, error) {
		dev := serialtest.New("COM1")
		devices = append(devices, dev)
		return dev, nil
	}, ReadLine)
	require.NoError(t, err)
	shared, err := Share(events)
	require.NoError(t, err)

	data, err := WatchData(shared)
	require.NoError(t, err)
	pins, err := WatchPinChanges(shared)
	require.NoError(t, err)

	lines := &recorder[string]{}
	changes := &recorder[serial.PinChange]{}
	subData := data.Subscribe(lines.observer())
	subPins := pins.Subscribe(changes.observer())
	require.Len(t, devices, 1)

	devices[0].Receive("a\n")
	devices[0].RaisePin(serial.PinDSR)
	require.Equal(t, []string{"a"}, lines.Values())
	require.Equal(t, []serial.PinChange{serial.PinDSR}, changes.Values())

	subData.Unsubscribe()
	subPins.Unsubscribe()
	require.True(t, devices[0].Disposed())
}
