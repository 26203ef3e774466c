// Package serial provides a Linux serial port device handle with a
// notification surface, designed for event-driven communication with
// embedded devices.
//
// A Port raises four kinds of notifications from one background goroutine
// per open port: data received, line errors, modem pin changes and
// disposal. Reads and writes are line or byte oriented and share an
// internal buffer, so a handler that reads a line on a data notification
// never loses the bytes that follow it. Input that a handler pulled into the
// buffer but did not consume is raised again, and input arriving after a
// read outside any handler raises a fresh notification.
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Line-based reading with custom delimiter (default: \r\n)
//   - Notification registration with cancel funcs
//   - Error and pin notifications from the kernel's interrupt counters
//   - Self-pipe mechanism for killability
//   - PTY-based tests for reliability
//
// This package does **not** support Windows. The rx subpackage turns a
// Device into an ordered observable event stream.
//
// Example usage:
//
//	port := serial.New("/dev/ttyUSB0",
//	    serial.WithBaudRate(115200),
//	    serial.WithDelimiter("\r\n"),
//	)
//	cancel := port.OnDataReceived(func(serial.DataKind) {
//	    line, err := port.ReadLine()
//	    if err != nil {
//	        log.Println("Read error:", err)
//	        return
//	    }
//	    fmt.Println("Received:", line)
//	})
//	defer cancel()
//
//	if err := port.Open(); err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	// Write a command
//	if err := port.WriteLine("C,START"); err != nil {
//	    log.Println("Write failed:", err)
//	}
package serial
