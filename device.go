package serial

import (
	"fmt"
	"io"
)

// DataKind describes what a data-received notification reports.
type DataKind int

const (
	// DataChars means characters were received and placed in the input buffer.
	DataChars DataKind = iota + 1
	// DataEOF means the end-of-file character was received.
	DataEOF
)

func (k DataKind) String() string {
	switch k {
	case DataChars:
		return "Chars"
	case DataEOF:
		return "Eof"
	default:
		return fmt.Sprintf("DataKind(%d)", int(k))
	}
}

// ErrorKind is the kind of line error carried by an error-received notification.
type ErrorKind int

const (
	ErrorRXOver   ErrorKind = iota + 1 // input buffer overflow
	ErrorOverrun                       // hardware character overrun
	ErrorRXParity                      // parity error
	ErrorFrame                         // framing error
	ErrorTXFull                        // output buffer full
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorRXOver:
		return "RXOver"
	case ErrorOverrun:
		return "Overrun"
	case ErrorRXParity:
		return "RXParity"
	case ErrorFrame:
		return "Frame"
	case ErrorTXFull:
		return "TXFull"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// PinChange is the modem line reported by a pin-changed notification.
type PinChange int

const (
	PinCTS   PinChange = iota + 1 // Clear To Send changed state
	PinDSR                        // Data Set Ready changed state
	PinCD                         // Carrier Detect changed state
	PinRing                       // ring indicator detected
	PinBreak                      // break detected on input
)

func (c PinChange) String() string {
	switch c {
	case PinCTS:
		return "CtsChanged"
	case PinDSR:
		return "DsrChanged"
	case PinCD:
		return "CDChanged"
	case PinRing:
		return "Ring"
	case PinBreak:
		return "Break"
	default:
		return fmt.Sprintf("PinChange(%d)", int(c))
	}
}

// Notifier is the notification surface of a device. Each registration
// returns a cancel func that removes the handler; calling it more than once
// is a no-op. Handlers for one device are never invoked concurrently.
type Notifier interface {
	OnDataReceived(fn func(DataKind)) (cancel func())
	OnErrorReceived(fn func(ErrorKind)) (cancel func())
	OnPinChanged(fn func(PinChange)) (cancel func())
	OnDisposed(fn func()) (cancel func())
}

// Device is the capability surface of a serial device handle: lifecycle,
// byte and line oriented I/O, and notifications. *Port implements it.
//
// Close disposes the device; a disposed device cannot be reopened and raises
// its disposed notification exactly once.
type Device interface {
	Notifier
	io.Reader
	io.Writer
	io.ByteReader
	io.StringWriter

	Name() string
	Open() error
	IsOpen() bool
	Close() error

	BytesToRead() (int, error)
	ReadChar() (rune, error)
	ReadExisting() (string, error)
	ReadLine() (string, error)
	ReadTo(delim string) (string, error)
	WriteLine(line string) error
}
