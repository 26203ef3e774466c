package serial

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Parity is the parity checking mode of a port.
type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityOdd   Parity = 'O'
	ParityEven  Parity = 'E'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("Parity(%q)", byte(p))
	}
}

// ParseParity maps a configuration string ("none", "odd", "E", ...) to a Parity.
func ParseParity(s string) (Parity, error) {
	switch s {
	case "", "none", "None", "N", "n":
		return ParityNone, nil
	case "odd", "Odd", "O", "o":
		return ParityOdd, nil
	case "even", "Even", "E", "e":
		return ParityEven, nil
	case "mark", "Mark", "M", "m":
		return ParityMark, nil
	case "space", "Space", "S", "s":
		return ParitySpace, nil
	}
	return 0, fmt.Errorf("unknown parity %q", s)
}

// StopBits is the number of stop bits per character.
type StopBits byte

const (
	StopBitsOne          StopBits = 1
	StopBitsOnePointFive StopBits = 15
	StopBitsTwo          StopBits = 2
)

const (
	DefaultBaudRate     = 9600
	DefaultDataBits     = 8
	DefaultDelimiter    = "\r\n"
	DefaultPollInterval = 20 * time.Millisecond
)

// Config holds configuration parameters for opening a serial port.
// Zero values are replaced by the defaults: 9600 baud, 8 data bits, no
// parity, one stop bit and "\r\n" as line delimiter.
type Config struct {
	Device       string
	BaudRate     int
	Parity       Parity
	DataBits     int
	StopBits     StopBits
	Delimiter    string        // default "\r\n"
	ReadTimeout  time.Duration // zero blocks until data or Close
	PollInterval time.Duration // modem line sampling and watcher wakeups
	Logger       *zap.Logger   // default zap.L()
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Parity == 0 {
		c.Parity = ParityNone
	}
	if c.DataBits == 0 {
		c.DataBits = DefaultDataBits
	}
	if c.StopBits == 0 {
		c.StopBits = StopBitsOne
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
	return c
}

// Option configures a port created by New.
type Option func(*Config)

func WithBaudRate(baud int) Option { return func(c *Config) { c.BaudRate = baud } }

func WithParity(p Parity) Option { return func(c *Config) { c.Parity = p } }

func WithDataBits(bits int) Option { return func(c *Config) { c.DataBits = bits } }

func WithStopBits(s StopBits) Option { return func(c *Config) { c.StopBits = s } }

// WithDelimiter sets the line delimiter used by ReadLine and WriteLine.
func WithDelimiter(d string) Option { return func(c *Config) { c.Delimiter = d } }

func WithReadTimeout(d time.Duration) Option { return func(c *Config) { c.ReadTimeout = d } }

func WithPollInterval(d time.Duration) Option { return func(c *Config) { c.PollInterval = d } }

func WithLogger(l *zap.Logger) Option { return func(c *Config) { c.Logger = l } }

// New returns a closed port for the named device. Options override the
// default transport settings.
func New(name string, opts ...Option) *Port {
	cfg := Config{Device: name}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewPort(cfg)
}
