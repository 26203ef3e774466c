package serial

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// OnDataReceived registers fn to be called when new input arrives.
func (p *Port) OnDataReceived(fn func(DataKind)) (cancel func()) { return p.onData.add(fn) }

// OnErrorReceived registers fn to be called on framing, parity and overrun errors.
func (p *Port) OnErrorReceived(fn func(ErrorKind)) (cancel func()) { return p.onError.add(fn) }

// OnPinChanged registers fn to be called when a modem line changes.
func (p *Port) OnPinChanged(fn func(PinChange)) (cancel func()) { return p.onPin.add(fn) }

// OnDisposed registers fn to be called once when the port is closed.
func (p *Port) OnDisposed(fn func()) (cancel func()) { return p.onDisposed.add(fn) }

type handlerEntry[F any] struct {
	id uint64
	fn F
}

// handlerList is an ordered set of callbacks that may be modified while
// being dispatched.
type handlerList[F any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []handlerEntry[F]
}

func (l *handlerList[F]) add(fn F) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, handlerEntry[F]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *handlerList[F]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *handlerList[F]) snapshot() []F {
	l.mu.Lock()
	defer l.mu.Unlock()
	fns := make([]F, len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

// watch raises notifications for one open session of the port. It runs on
// its own goroutine, so handlers of one port never run concurrently.
func (p *Port) watch(h handle) {
	interval := int(p.cfg.PollInterval / time.Millisecond)

	var prev lineCounters
	lines := readLineCounters(h.fd, &prev) == nil
	if !lines {
		p.log.Debug("line counters unavailable, error and pin notifications disabled")
	}

	for {
		pfd := []unix.PollFd{
			{Fd: int32(h.fd), Events: unix.POLLIN},
			{Fd: int32(h.pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfd, interval)
		select {
		case <-h.done:
			return
		default:
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			p.log.Warn("poll failed, notifications stopped", zap.Error(err))
			return
		}
		if pfd[1].Revents != 0 {
			return
		}

		if lines {
			var cur lineCounters
			if readLineCounters(h.fd, &cur) == nil {
				p.raiseLineChanges(prev, cur)
				prev = cur
			}
		}

		rev := pfd[0].Revents
		if rev&unix.POLLIN != 0 {
			fresh, err := p.arrived(h)
			if err != nil {
				p.log.Warn("input queue size unavailable, notifications stopped", zap.Error(err))
				return
			}
			if fresh {
				p.raiseData(h)
				continue
			}
		}
		if rev&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			p.log.Debug("device hung up, notifications stopped", zap.Int16("revents", rev))
			return
		}
		if rev&unix.POLLIN != 0 {
			// Level-triggered readiness with nothing new queued.
			time.Sleep(p.cfg.PollInterval)
		}
	}
}

// arrived reports whether the OS queue holds input that has not been
// announced yet, and marks it announced.
func (p *Port) arrived(h handle) (bool, error) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	n, err := unix.IoctlGetInt(h.fd, unix.TIOCINQ)
	if err != nil {
		return false, err
	}
	if n <= p.announced {
		return false, nil
	}
	p.announced = n
	return true, nil
}

// raiseData calls the data handlers. A handler that reads may pull more input
// into the port buffer than it consumes, so the handlers are called again
// while they keep consuming and buffered input remains.
func (p *Port) raiseData(h handle) {
	for {
		before := p.consumed.Load()
		for _, fn := range p.onData.snapshot() {
			fn(DataChars)
		}
		select {
		case <-h.done:
			return
		default:
		}
		if p.consumed.Load() == before || p.buffered.Load() == 0 {
			return
		}
	}
}

func (p *Port) raiseLineChanges(prev, cur lineCounters) {
	errs := []struct {
		kind ErrorKind
		d    int32
	}{
		{ErrorFrame, cur.Frame - prev.Frame},
		{ErrorOverrun, cur.Overrun - prev.Overrun},
		{ErrorRXParity, cur.Parity - prev.Parity},
		{ErrorRXOver, cur.BufOverrun - prev.BufOverrun},
	}
	for _, e := range errs {
		if e.d == 0 {
			continue
		}
		for _, fn := range p.onError.snapshot() {
			fn(e.kind)
		}
	}

	pins := []struct {
		pin PinChange
		d   int32
	}{
		{PinCTS, cur.CTS - prev.CTS},
		{PinDSR, cur.DSR - prev.DSR},
		{PinCD, cur.DCD - prev.DCD},
		{PinRing, cur.RNG - prev.RNG},
		{PinBreak, cur.BRK - prev.BRK},
	}
	for _, c := range pins {
		if c.d == 0 {
			continue
		}
		for _, fn := range p.onPin.snapshot() {
			fn(c.pin)
		}
	}
}

// lineCounters mirrors struct serial_icounter_struct from <linux/serial.h>.
type lineCounters struct {
	CTS, DSR, RNG, DCD int32
	RX, TX             int32
	Frame, Overrun     int32
	Parity, BRK        int32
	BufOverrun         int32
	_                  [9]int32
}

// tiocgicount is TIOCGICOUNT for the asm-generic ioctl layout (x86, arm, arm64).
const tiocgicount = 0x545D

// readLineCounters fails on devices without interrupt counters, such as PTYs.
func readLineCounters(fd int, c *lineCounters) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), tiocgicount, uintptr(unsafe.Pointer(c)))
	if errno != 0 {
		return errno
	}
	return nil
}
