package rx

import (
	"fmt"
	"strings"
	"time"

	serial "github.com/luhtfiimanal/go-rx-serial"
)

// EventKind tags the variant of an Event.
type EventKind int

const (
	DataReceived EventKind = iota + 1
	DataReceivedAndRead
	ErrorReceived
	PinChanged
	Disposed
)

func (k EventKind) String() string {
	switch k {
	case DataReceived:
		return "DataReceived"
	case DataReceivedAndRead:
		return "DataReceivedAndRead"
	case ErrorReceived:
		return "ErrorReceived"
	case PinChanged:
		return "PinChanged"
	case Disposed:
		return "Disposed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// NoData is the payload type of streams that do not read on data events.
type NoData struct{}

// Event is one notification of a device. Events are immutable values; only
// DataReceivedAndRead events carry a payload.
type Event[T any] struct {
	kind    EventKind
	port    string
	time    time.Time
	data    serial.DataKind
	err     serial.ErrorKind
	pin     serial.PinChange
	payload T
	device  serial.Device
}

func newEvent[T any](dev serial.Device, kind EventKind) Event[T] {
	return Event[T]{kind: kind, port: dev.Name(), time: time.Now(), device: dev}
}

func dataReceived[T any](dev serial.Device, data serial.DataKind) Event[T] {
	e := newEvent[T](dev, DataReceived)
	e.data = data
	return e
}

// dataRead builds the read event that follows the DataReceived event src.
func dataRead[T, S any](src Event[S], payload T) Event[T] {
	return Event[T]{
		kind:    DataReceivedAndRead,
		port:    src.port,
		time:    src.time,
		data:    src.data,
		payload: payload,
		device:  src.device,
	}
}

func errorReceived[T any](dev serial.Device, kind serial.ErrorKind) Event[T] {
	e := newEvent[T](dev, ErrorReceived)
	e.err = kind
	return e
}

func pinChanged[T any](dev serial.Device, pin serial.PinChange) Event[T] {
	e := newEvent[T](dev, PinChanged)
	e.pin = pin
	return e
}

func (e Event[T]) Kind() EventKind { return e.kind }

// Port returns the name of the originating device.
func (e Event[T]) Port() string { return e.port }

// Time returns when the event was created.
func (e Event[T]) Time() time.Time { return e.time }

// DataKind is set for DataReceived and DataReceivedAndRead events.
func (e Event[T]) DataKind() serial.DataKind { return e.data }

// ErrorKind is set for ErrorReceived events.
func (e Event[T]) ErrorKind() serial.ErrorKind { return e.err }

// PinChange is set for PinChanged events.
func (e Event[T]) PinChange() serial.PinChange { return e.pin }

// Payload returns the read data; ok is false unless the event is a
// DataReceivedAndRead event.
func (e Event[T]) Payload() (v T, ok bool) {
	return e.payload, e.kind == DataReceivedAndRead
}

// Device returns the originating device handle.
func (e Event[T]) Device() serial.Device { return e.device }

func (e Event[T]) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: Kind = %s; Port = %s; Time = %s", e.kind, e.port, e.time.Format(time.RFC3339Nano))
	switch e.kind {
	case DataReceived:
		fmt.Fprintf(&b, "; DataKind = %s", e.data)
	case DataReceivedAndRead:
		fmt.Fprintf(&b, "; DataKind = %s; Payload = %v", e.data, e.payload)
	case ErrorReceived:
		fmt.Fprintf(&b, "; ErrorKind = %s", e.err)
	case PinChanged:
		fmt.Fprintf(&b, "; PinChange = %s", e.pin)
	}
	return b.String()
}

// castEvent re-types an event without read data.
func castEvent[U, T any](e Event[T]) (Event[U], error) {
	if e.kind == DataReceivedAndRead {
		return Event[U]{}, fmt.Errorf("%w: can't convert event with read data to another payload type", ErrInvalidOperation)
	}
	return Event[U]{
		kind:   e.kind,
		port:   e.port,
		time:   e.time,
		data:   e.data,
		err:    e.err,
		pin:    e.pin,
		device: e.device,
	}, nil
}
