// Package bridge relays a serial port to an MQTT broker: lines read from the
// port are published, and lines published to the tx topic are written to it.
package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/go-rx-serial"
	"github.com/luhtfiimanal/go-rx-serial/internal/metrics"
	"github.com/luhtfiimanal/go-rx-serial/internal/mqtt"
	"github.com/luhtfiimanal/go-rx-serial/rx"
)

// Status payloads published on the status topic.
const (
	StatusOnline   = "online"
	StatusOffline  = "offline"
	StatusDisposed = "disposed"
	StatusError    = "error"
)

// Topics is the topic layout under one prefix.
type Topics struct {
	RX     string
	Error  string
	Pin    string
	Status string
	TX     string
}

func NewTopics(prefix string) Topics {
	p := strings.TrimRight(prefix, "/")
	return Topics{
		RX:     p + "/rx",
		Error:  p + "/error",
		Pin:    p + "/pin",
		Status: p + "/status",
		TX:     p + "/tx",
	}
}

type Options struct {
	Topics  Topics
	Retain  bool // retain rx, error and pin messages
	Metrics *metrics.BridgeMetrics
	Logger  *zap.Logger
	// TxBuffer bounds the outbound lines waiting for the port.
	TxBuffer int
}

// Bridge connects a caller-owned device to a broker. The device is never
// opened by the bridge and only closed by Close.
type Bridge struct {
	dev    serial.Device
	client mqtt.ClientAPI
	topics Topics
	retain bool
	m      *metrics.BridgeMetrics
	log    *zap.Logger

	tx       chan string
	cancel   context.CancelFunc
	subs     []rx.Subscription
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

func New(dev serial.Device, client mqtt.ClientAPI, opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	size := opts.TxBuffer
	if size <= 0 {
		size = 64
	}
	return &Bridge{
		dev:    dev,
		client: client,
		topics: opts.Topics,
		retain: opts.Retain,
		m:      opts.Metrics,
		log:    log.Named("bridge").With(zap.String("port", dev.Name())),
		tx:     make(chan string, size),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the device events and the tx topic. The bridge runs
// until Stop is called, ctx is done or the event stream ends; Done reports
// the latter.
func (b *Bridge) Start(ctx context.Context) error {
	connected, err := rx.ConnectRead(b.dev, rx.ReadLine)
	if err != nil {
		return err
	}
	// Every watcher below sees the same single read per data event.
	events, err := rx.Share(connected)
	if err != nil {
		return err
	}
	lines, err := rx.WatchData(events)
	if err != nil {
		return err
	}
	lineErrors, err := rx.WatchErrors(events)
	if err != nil {
		return err
	}
	pins, err := rx.WatchPinChanges(events)
	if err != nil {
		return err
	}
	disposing, err := rx.WatchDisposing(events)
	if err != nil {
		return err
	}

	ctx, b.cancel = context.WithCancel(ctx)

	b.subs = append(b.subs,
		events.Subscribe(rx.Observer[rx.Event[string]]{
			OnNext:      b.countEvent,
			OnError:     b.streamFailed,
			OnCompleted: b.finish,
		}),
		lines.Subscribe(rx.Observer[string]{OnNext: b.publishLine}),
		lineErrors.Subscribe(rx.Observer[serial.ErrorKind]{
			OnNext: func(kind serial.ErrorKind) { b.publish(b.topics.Error, kind.String(), b.retain) },
		}),
		pins.Subscribe(rx.Observer[serial.PinChange]{
			OnNext: func(pin serial.PinChange) { b.publish(b.topics.Pin, pin.String(), b.retain) },
		}),
		disposing.Subscribe(rx.Observer[struct{}]{
			OnNext: func(struct{}) {
				b.log.Info("port disposed")
				b.publish(b.topics.Status, StatusDisposed, true)
			},
		}),
	)

	out, err := rx.AsObserver(b.dev, b.writeLine, b.writeFailed, nil)
	if err != nil {
		return err
	}
	b.subs = append(b.subs, rx.FromChannel(ctx, b.tx).Subscribe(out))

	if err := b.client.Subscribe(b.topics.TX, b.enqueue); err != nil {
		b.Stop()
		return err
	}
	if b.m != nil && b.dev.IsOpen() {
		b.m.PortOpen.Set(1)
	}
	b.publish(b.topics.Status, StatusOnline, true)
	b.log.Info("bridge started", zap.String("rx", b.topics.RX), zap.String("tx", b.topics.TX))
	return nil
}

// Done is closed when the device event stream has ended or Stop was called.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Stop detaches from the broker and the device and publishes the offline
// status. It is safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if err := b.client.Unsubscribe(b.topics.TX); err != nil {
			b.log.Warn("unsubscribe tx failed", zap.Error(err))
		}
		if b.cancel != nil {
			b.cancel()
		}
		for _, sub := range b.subs {
			sub.Unsubscribe()
		}
		b.publish(b.topics.Status, StatusOffline, true)
		b.finish()
		b.log.Info("bridge stopped")
	})
}

// Close disposes the device, so the watchers still see it go away and publish
// the disposed status, then stops the bridge.
func (b *Bridge) Close() error {
	err := b.dev.Close()
	b.Stop()
	return err
}

func (b *Bridge) enqueue(_ string, payload []byte) {
	line := strings.TrimRight(string(payload), "\r\n")
	select {
	case b.tx <- line:
	case <-b.done:
	}
}

func (b *Bridge) writeLine(dev serial.Device, line string) error {
	if err := dev.WriteLine(line); err != nil {
		return err
	}
	if b.m != nil {
		b.m.LinesWritten.Inc()
	}
	return nil
}

func (b *Bridge) writeFailed(err error) {
	b.log.Error("write to port failed, outbound lines are no longer forwarded", zap.Error(err))
	if b.m != nil {
		b.m.StreamErrors.Inc()
	}
}

func (b *Bridge) publishLine(line string) {
	if b.m != nil {
		b.m.LinesReceived.Inc()
	}
	b.publish(b.topics.RX, line, b.retain)
}

func (b *Bridge) publish(topic, payload string, retain bool) {
	var err error
	if retain {
		err = b.client.PublishWith(topic, []byte(payload), true)
	} else {
		err = b.client.Publish(topic, []byte(payload))
	}
	if err != nil {
		b.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		if b.m != nil {
			b.m.PublishErrors.Inc()
		}
	}
}

func (b *Bridge) countEvent(e rx.Event[string]) {
	b.log.Debug("event", zap.Stringer("kind", e.Kind()))
	if b.m != nil {
		b.m.Events.WithLabelValues(e.Kind().String()).Inc()
	}
}

func (b *Bridge) streamFailed(err error) {
	if errors.Is(err, serial.ErrPortClosed) {
		b.log.Info("port closed while reading", zap.Error(err))
	} else {
		b.log.Error("event stream failed", zap.Error(err))
	}
	if b.m != nil {
		b.m.StreamErrors.Inc()
	}
	b.publish(b.topics.Status, StatusError, true)
	b.finish()
}

func (b *Bridge) finish() {
	b.doneOnce.Do(func() {
		if b.m != nil {
			b.m.PortOpen.Set(0)
		}
		close(b.done)
	})
}
