package serial

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	ErrPortClosed  = errors.New("serial port closed")
	ErrPortOpen    = errors.New("serial port already open")
	ErrTimeout     = errors.New("serial read timeout")
	ErrUnsupported = errors.New("unsupported serial setting")
)

// Port provides low-latency, killable access to a Linux serial port and
// raises notifications for received data, line errors, modem pin changes
// and disposal. It is safe for concurrent use by multiple goroutines.
type Port struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex // guards the fields below
	fd       int
	file     *os.File
	done     chan struct{}
	pipeR    int // self-pipe read fd
	pipeW    int // self-pipe write fd
	open     bool
	disposed bool

	rmu      sync.Mutex // serialises readers
	rbuf     []byte
	scratch  [4096]byte
	buffered atomic.Int64  // len(rbuf)
	consumed atomic.Uint64 // bytes taken out of rbuf

	qmu       sync.Mutex // guards announced
	announced int        // bytes in the OS queue already raised as DataReceived

	wmu sync.Mutex

	onData     handlerList[func(DataKind)]
	onError    handlerList[func(ErrorKind)]
	onPin      handlerList[func(PinChange)]
	onDisposed handlerList[func()]
}

// handle is a snapshot of the descriptors of an open port.
type handle struct {
	fd    int
	file  *os.File
	pipeR int
	done  chan struct{}
}

// NewPort returns a closed port for cfg. Call Open before reading or writing.
func NewPort(cfg Config) *Port {
	cfg = cfg.withDefaults()
	return &Port{
		cfg: cfg,
		log: cfg.Logger.Named("serial").With(zap.String("port", cfg.Device)),
	}
}

// Open opens a serial port using the provided Config and returns it.
// The port is configured for raw, low-latency, non-buffered operation.
func Open(cfg Config) (*Port, error) {
	p := NewPort(cfg)
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns the device path.
func (p *Port) Name() string { return p.cfg.Device }

// Config returns the effective configuration.
func (p *Port) Config() Config { return p.cfg }

// IsOpen reports whether the port is open and not disposed.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Open opens and configures the device and starts raising notifications.
func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrPortClosed
	}
	if p.open {
		return ErrPortOpen
	}

	fd, err := syscall.Open(p.cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	if err := configure(fd, p.cfg, p.log); err != nil {
		syscall.Close(fd)
		return err
	}

	// Turn back into blocking mode now that config is done
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("set blocking: %w", err)
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("pipe: %w", err)
	}

	p.fd = fd
	p.file = os.NewFile(uintptr(fd), p.cfg.Device)
	p.pipeR, p.pipeW = pipeFds[0], pipeFds[1]
	p.done = make(chan struct{})
	p.open = true
	p.rbuf = p.rbuf[:0]

	go p.watch(handle{fd: fd, file: p.file, pipeR: p.pipeR, done: p.done})
	p.log.Debug("port opened",
		zap.Int("baud", p.cfg.BaudRate),
		zap.Stringer("parity", p.cfg.Parity),
		zap.Int("dataBits", p.cfg.DataBits),
		zap.Int("stopBits", int(p.cfg.StopBits)))
	return nil
}

// Close disposes the port: it unblocks any pending reads, closes the device
// and raises the disposed notification. A disposed port cannot be reopened.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	if p.open {
		p.open = false
		close(p.done)
		// Wake up poll using self-pipe
		unix.Write(p.pipeW, []byte{1})
		err = p.file.Close()
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	}
	p.mu.Unlock()

	// Handlers run unlocked; a handler calling Close again returns at once.
	p.log.Debug("port disposed")
	for _, fn := range p.onDisposed.snapshot() {
		fn()
	}
	return err
}

func (p *Port) handle() (handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return handle{}, ErrPortClosed
	}
	return handle{fd: p.fd, file: p.file, pipeR: p.pipeR, done: p.done}, nil
}

func configure(fd int, cfg Config, log *zap.Logger) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.INPCK
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CMSPAR | unix.CSTOPB
	termios.Cflag |= unix.CREAD | unix.CLOCAL

	size, err := dataBitsToUnix(cfg.DataBits)
	if err != nil {
		return err
	}
	termios.Cflag |= size

	switch cfg.Parity {
	case ParityNone:
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	case ParityMark:
		termios.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case ParitySpace:
		termios.Cflag |= unix.PARENB | unix.CMSPAR
	default:
		return fmt.Errorf("%w: parity %v", ErrUnsupported, cfg.Parity)
	}
	if cfg.Parity != ParityNone {
		termios.Iflag |= unix.INPCK
	}

	switch cfg.StopBits {
	case StopBitsOne:
	case StopBitsTwo:
		termios.Cflag |= unix.CSTOPB
	default:
		return fmt.Errorf("%w: stop bits %d", ErrUnsupported, cfg.StopBits)
	}

	// Baud rate
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		log.Warn("unsupported baud rate, falling back to 115200", zap.Int("baud", cfg.BaudRate))
	}
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	// Set VMIN=1, VTIME=0 for immediate, non-blocking reads
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

func dataBitsToUnix(bits int) (uint32, error) {
	switch bits {
	case 5:
		return unix.CS5, nil
	case 6:
		return unix.CS6, nil
	case 7:
		return unix.CS7, nil
	case 8:
		return unix.CS8, nil
	default:
		return 0, fmt.Errorf("%w: data bits %d", ErrUnsupported, bits)
	}
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return unix.B115200, false // fallback
	}
}
