// Package serialtest provides an in-memory serial.Device whose
// notifications are raised explicitly by the test.
package serialtest

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"

	serial "github.com/luhtfiimanal/go-rx-serial"
)

// Device is a scriptable serial.Device. Input is queued with Feed and
// notifications are delivered synchronously on the goroutine that calls
// Raise*, Receive or Close. Reads never block: a read that cannot be
// satisfied from queued input fails with serial.ErrTimeout.
type Device struct {
	name      string
	delimiter string

	mu       sync.Mutex
	open     bool
	disposed bool
	opens    int
	closes   int
	input    []byte
	written  bytes.Buffer
	openErr  error
	readErr  error
	writeErr error

	onData     handlers[func(serial.DataKind)]
	onError    handlers[func(serial.ErrorKind)]
	onPin      handlers[func(serial.PinChange)]
	onDisposed handlers[func()]
}

var _ serial.Device = (*Device)(nil)

// New returns a closed device named name using "\n" as line delimiter.
func New(name string) *Device {
	return &Device{name: name, delimiter: "\n"}
}

// NewOpen returns an open device named name.
func NewOpen(name string) *Device {
	d := New(name)
	d.open = true
	return d
}

func (d *Device) SetOpenError(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

// SetReadError makes every read fail with err; nil restores normal reads.
func (d *Device) SetReadError(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

// SetWriteError makes every write fail with err; nil restores normal writes.
func (d *Device) SetWriteError(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// Feed queues input without raising a notification.
func (d *Device) Feed(s string) {
	d.mu.Lock()
	d.input = append(d.input, s...)
	d.mu.Unlock()
}

// Receive queues input and raises a DataChars notification.
func (d *Device) Receive(s string) {
	d.Feed(s)
	d.RaiseData(serial.DataChars)
}

func (d *Device) RaiseData(kind serial.DataKind) {
	for _, fn := range d.onData.snapshot() {
		fn(kind)
	}
}

func (d *Device) RaiseError(kind serial.ErrorKind) {
	for _, fn := range d.onError.snapshot() {
		fn(kind)
	}
}

func (d *Device) RaisePin(pin serial.PinChange) {
	for _, fn := range d.onPin.snapshot() {
		fn(pin)
	}
}

// Written returns everything written to the device so far.
func (d *Device) Written() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written.String()
}

// Opens returns how many times Open succeeded.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many times Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *Device) Disposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposed
}

// Handlers returns the number of registered notification handlers.
func (d *Device) Handlers() int {
	return d.onData.len() + d.onError.len() + d.onPin.len() + d.onDisposed.len()
}

func (d *Device) Name() string { return d.name }

func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.disposed:
		return serial.ErrPortClosed
	case d.open:
		return serial.ErrPortOpen
	case d.openErr != nil:
		return d.openErr
	}
	d.open = true
	d.opens++
	return nil
}

func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Close disposes the device and raises the disposed notification once.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closes++
	if d.disposed {
		d.mu.Unlock()
		return nil
	}
	d.open = false
	d.disposed = true
	d.mu.Unlock()

	for _, fn := range d.onDisposed.snapshot() {
		fn()
	}
	return nil
}

func (d *Device) BytesToRead() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, serial.ErrPortClosed
	}
	return len(d.input), nil
}

func (d *Device) Read(b []byte) (int, error) {
	var n int
	err := d.read(func(in []byte) (int, bool) {
		if len(in) == 0 {
			return 0, false
		}
		n = copy(b, in)
		return n, true
	})
	return n, err
}

func (d *Device) ReadByte() (byte, error) {
	var b byte
	err := d.read(func(in []byte) (int, bool) {
		if len(in) == 0 {
			return 0, false
		}
		b = in[0]
		return 1, true
	})
	return b, err
}

func (d *Device) ReadChar() (rune, error) {
	var r rune
	err := d.read(func(in []byte) (int, bool) {
		if !utf8.FullRune(in) {
			return 0, false
		}
		var size int
		r, size = utf8.DecodeRune(in)
		return size, true
	})
	return r, err
}

func (d *Device) ReadExisting() (string, error) {
	var s string
	err := d.read(func(in []byte) (int, bool) {
		s = string(in)
		return len(in), true
	})
	return s, err
}

func (d *Device) ReadLine() (string, error) {
	return d.ReadTo(d.delimiter)
}

func (d *Device) ReadTo(delim string) (string, error) {
	var s string
	err := d.read(func(in []byte) (int, bool) {
		idx := strings.Index(string(in), delim)
		if idx < 0 {
			return 0, false
		}
		s = string(in[:idx])
		return idx + len(delim), true
	})
	return s, err
}

func (d *Device) read(take func(in []byte) (int, bool)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return serial.ErrPortClosed
	}
	if d.readErr != nil {
		return d.readErr
	}
	n, ok := take(d.input)
	if !ok {
		return serial.ErrTimeout
	}
	d.input = d.input[n:]
	return nil
}

func (d *Device) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, serial.ErrPortClosed
	}
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	return d.written.Write(b)
}

func (d *Device) WriteString(s string) (int, error) {
	return d.Write([]byte(s))
}

func (d *Device) WriteLine(line string) error {
	_, err := d.WriteString(line + d.delimiter)
	return err
}

func (d *Device) OnDataReceived(fn func(serial.DataKind)) func() { return d.onData.add(fn) }

func (d *Device) OnErrorReceived(fn func(serial.ErrorKind)) func() { return d.onError.add(fn) }

func (d *Device) OnPinChanged(fn func(serial.PinChange)) func() { return d.onPin.add(fn) }

func (d *Device) OnDisposed(fn func()) func() { return d.onDisposed.add(fn) }

type handler[F any] struct {
	id int
	fn F
}

type handlers[F any] struct {
	mu      sync.Mutex
	nextID  int
	entries []handler[F]
}

func (h *handlers[F]) add(fn F) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.entries = append(h.entries, handler[F]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { h.remove(id) }) }
}

func (h *handlers[F]) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.id == id {
			h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
			return
		}
	}
}

func (h *handlers[F]) snapshot() []F {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]F, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.fn
	}
	return out
}

func (h *handlers[F]) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
