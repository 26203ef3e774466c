// Package rx turns the notifications of a serial.Device into one ordered,
// observable event stream, and adapts outbound streams into device writes.
//
// A stream merges the device's data, error, pin and disposed notifications
// in arrival order and completes right after the Disposed event; anything
// the device raises afterwards is ignored. Callbacks run synchronously on
// the goroutine that delivers the notification, so a read function called
// for a DataReceived event has the device to itself until it returns.
//
// Ownership decides teardown:
//
//   - Connect and ConnectRead borrow a caller-owned device. The stream never
//     opens, closes or disposes it.
//   - ConnectFactory, ConnectFactoryRead, ConnectName and ConnectNameRead own
//     the device: one is built and opened per subscription and disposed when
//     the subscription ends, whether by completion, error or Unsubscribe.
//
// Streams are cold. Share multicasts one subscription, and therefore one
// device, to many observers.
//
// Example:
//
//	events, err := rx.ConnectNameRead("/dev/ttyUSB0", rx.ReadLine,
//	    serial.WithBaudRate(115200))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	lines, _ := rx.WatchData(events)
//	sub := lines.Subscribe(rx.Observer[string]{
//	    OnNext:  func(line string) { fmt.Println("Received:", line) },
//	    OnError: func(err error) { log.Println("Read error:", err) },
//	})
//	defer sub.Unsubscribe()
package rx
