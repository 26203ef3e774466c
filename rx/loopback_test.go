package rx

import (
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/go-rx-serial"
)

func openLoopback(t *testing.T) (master, slave *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	return master, slave
}

func portOptions() []serial.Option {
	return []serial.Option{
		serial.WithBaudRate(115200),
		serial.WithDelimiter("\n"),
		serial.WithReadTimeout(time.Second),
	}
}

func TestLoopback_HelloPort(t *testing.T) {
	master, slave := openLoopback(t)
	port := serial.New(slave.Name(), portOptions()...)
	require.NoError(t, port.Open())
	t.Cleanup(func() { port.Close() })

	events, err := ConnectRead(port, ReadLine)
	require.NoError(t, err)
	lines, err := WatchData(events)
	require.NoError(t, err)

	rec := &recorder[string]{}
	sub := lines.Subscribe(rec.observer())
	defer sub.Unsubscribe()

	_, err = master.Write([]byte("Hello Port\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.Values()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, []string{"Hello Port"}, rec.Values())
	require.NoError(t, rec.Err())
}

func TestLoopback_DisposeWithActiveSubscription(t *testing.T) {
	master, slave := openLoopback(t)
	port := serial.New(slave.Name(), portOptions()...)
	require.NoError(t, port.Open())

	events, err := Connect(port)
	require.NoError(t, err)
	rec := &recorder[Event[NoData]]{}
	events.Subscribe(rec.observer())

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := master.Write([]byte("noise\n")); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Close())
	close(stop)
	<-writerDone

	require.True(t, rec.Completed())
	got := rec.Values()
	require.NotEmpty(t, got)
	require.Equal(t, Disposed, got[len(got)-1].Kind())
	for _, e := range got[:len(got)-1] {
		require.NotEqual(t, Disposed, e.Kind())
	}

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, rec.Late())
	require.Len(t, rec.Values(), len(got))
}

func TestLoopback_FactoryOwnedPort(t *testing.T) {
	master, slave := openLoopback(t)
	var port *serial.Port
	events, err := ConnectFactoryRead(func() (serial.Device, error) {
		port = serial.New(slave.Name(), portOptions()...)
		return port, nil
	}, ReadLine)
	require.NoError(t, err)
	lines, err := WatchData(events)
	require.NoError(t, err)

	rec := &recorder[string]{}
	sub := lines.Subscribe(rec.observer())
	require.NotNil(t, port)
	require.True(t, port.IsOpen())

	_, err = master.Write([]byte("ping\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Values()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "ping", rec.Values()[0])

	sub.Unsubscribe()
	require.False(t, port.IsOpen())
	require.ErrorIs(t, port.Open(), serial.ErrPortClosed)
}

func TestLoopback_WriteLineToPort(t *testing.T) {
	master, slave := openLoopback(t)
	port := serial.New(slave.Name(), portOptions()...)
	require.NoError(t, port.Open())
	t.Cleanup(func() { port.Close() })

	var out outcome
	_, err := WriteLineTo(Of("AT", "ATI"), port, out.onError, out.onCompleted)
	require.NoError(t, err)
	require.Empty(t, out.Errs())
	require.Equal(t, 1, out.Completed())
	require.True(t, port.IsOpen())

	want := "AT\nATI\n"
	got := make([]byte, 0, len(want))
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < len(want) && time.Now().Before(deadline) {
		n, err := master.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, want, string(got))
}

func TestLoopback_SeveralLinesInOneWrite(t *testing.T) {
	master, slave := openLoopback(t)
	port := serial.New(slave.Name(), portOptions()...)
	require.NoError(t, port.Open())
	t.Cleanup(func() { port.Close() })

	events, err := ConnectRead(port, ReadLine)
	require.NoError(t, err)
	lines, err := WatchData(events)
	require.NoError(t, err)

	rec := &recorder[string]{}
	sub := lines.Subscribe(rec.observer())
	defer sub.Unsubscribe()

	_, err = master.Write([]byte("first\nsecond\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Values()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"first", "second"}, rec.Values())

	_, err = master.Write([]byte("third\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Values()) == 3 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"first", "second", "third"}, rec.Values())
	require.NoError(t, rec.Err())
}

func TestLoopback_ReadOutsideNotification(t *testing.T) {
	master, slave := openLoopback(t)
	port := serial.New(slave.Name(), portOptions()...)
	require.NoError(t, port.Open())
	t.Cleanup(func() { port.Close() })

	events, err := Connect(port)
	require.NoError(t, err)
	rec := &recorder[Event[NoData]]{}
	sub := events.Subscribe(rec.observer())
	defer sub.Unsubscribe()

	_, err = master.Write([]byte("aaaaaaaa"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Values()) >= 1 }, 2*time.Second, 10*time.Millisecond)

	var drained string
	require.Eventually(t, func() bool {
		s, err := port.ReadExisting()
		require.NoError(t, err)
		drained += s
		return drained == "aaaaaaaa"
	}, 2*time.Second, 10*time.Millisecond)

	seen := len(rec.Values())
	_, err = master.Write([]byte("bb"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Values()) > seen }, 2*time.Second, 10*time.Millisecond)
	for _, k := range kinds(rec.Values()) {
		require.Equal(t, DataReceived, k)
	}
}
