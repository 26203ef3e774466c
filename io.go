package serial

import (
	"bytes"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// BytesToRead returns the number of bytes buffered by the port and the OS
// that can be read without blocking.
func (p *Port) BytesToRead() (int, error) {
	h, err := p.handle()
	if err != nil {
		return 0, err
	}
	p.rmu.Lock()
	defer p.rmu.Unlock()
	n, err := unix.IoctlGetInt(h.fd, unix.TIOCINQ)
	if err != nil {
		return 0, fmt.Errorf("input queue: %w", err)
	}
	return len(p.rbuf) + n, nil
}

// Read reads up to len(b) bytes, blocking until at least one is available.
func (p *Port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	h, err := p.handle()
	if err != nil {
		return 0, err
	}
	p.rmu.Lock()
	defer p.rmu.Unlock()
	deadline := p.deadline()
	for len(p.rbuf) == 0 {
		if err := p.fill(h, deadline); err != nil {
			return 0, err
		}
	}
	n := copy(b, p.rbuf)
	p.consume(n)
	return n, nil
}

// ReadByte reads a single byte, blocking until one is available.
func (p *Port) ReadByte() (byte, error) {
	h, err := p.handle()
	if err != nil {
		return 0, err
	}
	p.rmu.Lock()
	defer p.rmu.Unlock()
	deadline := p.deadline()
	for len(p.rbuf) == 0 {
		if err := p.fill(h, deadline); err != nil {
			return 0, err
		}
	}
	b := p.rbuf[0]
	p.consume(1)
	return b, nil
}

// ReadChar reads a single UTF-8 encoded character. Invalid encodings yield
// utf8.RuneError and consume one byte.
func (p *Port) ReadChar() (rune, error) {
	h, err := p.handle()
	if err != nil {
		return 0, err
	}
	p.rmu.Lock()
	defer p.rmu.Unlock()
	deadline := p.deadline()
	for !utf8.FullRune(p.rbuf) {
		if err := p.fill(h, deadline); err != nil {
			return 0, err
		}
	}
	r, size := utf8.DecodeRune(p.rbuf)
	p.consume(size)
	return r, nil
}

// ReadExisting returns everything that can be read without blocking.
func (p *Port) ReadExisting() (string, error) {
	h, err := p.handle()
	if err != nil {
		return "", err
	}
	p.rmu.Lock()
	defer p.rmu.Unlock()
	n, err := unix.IoctlGetInt(h.fd, unix.TIOCINQ)
	if err != nil {
		return "", fmt.Errorf("input queue: %w", err)
	}
	for n > 0 {
		m, err := p.readInput(h, p.scratch[:min(n, len(p.scratch))])
		if err != nil {
			return "", err
		}
		p.buffer(p.scratch[:m])
		n -= m
	}
	s := string(p.rbuf)
	p.consume(len(p.rbuf))
	return s, nil
}

// ReadLine reads a single line, blocking until the configured delimiter is
// received. The delimiter is not included in the result.
func (p *Port) ReadLine() (string, error) {
	return p.ReadTo(p.cfg.Delimiter)
}

// ReadTo reads up to and consumes delim, returning the text before it.
func (p *Port) ReadTo(delim string) (string, error) {
	if delim == "" {
		return "", errors.New("read to: empty delimiter")
	}
	h, err := p.handle()
	if err != nil {
		return "", err
	}
	p.rmu.Lock()
	defer p.rmu.Unlock()
	deadline := p.deadline()
	sep := []byte(delim)
	for {
		if idx := bytes.Index(p.rbuf, sep); idx >= 0 {
			s := string(p.rbuf[:idx])
			p.consume(idx + len(sep))
			return s, nil
		}
		if err := p.fill(h, deadline); err != nil {
			return "", err
		}
	}
}

// Write writes b to the port.
func (p *Port) Write(b []byte) (int, error) {
	h, err := p.handle()
	if err != nil {
		return 0, err
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return h.file.Write(b)
}

// WriteString writes s to the port.
func (p *Port) WriteString(s string) (int, error) {
	h, err := p.handle()
	if err != nil {
		return 0, err
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return h.file.WriteString(s)
}

// WriteLine writes a line followed by the configured delimiter.
func (p *Port) WriteLine(line string) error {
	_, err := p.WriteString(line + p.cfg.Delimiter)
	return err
}

func (p *Port) deadline() time.Time {
	if p.cfg.ReadTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(p.cfg.ReadTimeout)
}

func (p *Port) consume(n int) {
	p.rbuf = p.rbuf[:copy(p.rbuf, p.rbuf[n:])]
	p.buffered.Store(int64(len(p.rbuf)))
	p.consumed.Add(uint64(n))
}

// fill waits for input using poll and appends it to the read buffer. It
// returns ErrPortClosed when Close is called and ErrTimeout when the
// deadline passes. Callers hold rmu.
func (p *Port) fill(h handle, deadline time.Time) error {
	timeout := -1
	if !deadline.IsZero() {
		ms := time.Until(deadline).Milliseconds()
		if ms <= 0 {
			return ErrTimeout
		}
		timeout = int(ms)
	}

	// Use poll to wait for data or kill signal
	pfd := []unix.PollFd{
		{Fd: int32(h.fd), Events: unix.POLLIN},
		{Fd: int32(h.pipeR), Events: unix.POLLIN},
	}
	n, err := unix.Poll(pfd, timeout)
	// Check killability
	select {
	case <-h.done:
		return ErrPortClosed
	default:
	}
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return err
	}
	if n == 0 {
		return ErrTimeout
	}
	if pfd[1].Revents != 0 {
		return ErrPortClosed
	}
	if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
		return nil
	}
	m, err := p.readInput(h, p.scratch[:])
	if err != nil {
		return err
	}
	p.buffer(p.scratch[:m])
	return nil
}

// readInput reads from the OS queue and forgets the announced bytes it took,
// so input arriving later is raised again.
func (p *Port) readInput(h handle, b []byte) (int, error) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	n, err := h.file.Read(b)
	p.announced = max(0, p.announced-n)
	return n, err
}

func (p *Port) buffer(b []byte) {
	p.rbuf = append(p.rbuf, b...)
	p.buffered.Store(int64(len(p.rbuf)))
}
