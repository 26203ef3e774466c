package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics of reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// BridgeMetrics counts what flows through the serial to MQTT bridge.
type BridgeMetrics struct {
	Events        *prometheus.CounterVec // labels: kind
	LinesReceived prometheus.Counter
	LinesWritten  prometheus.Counter
	StreamErrors  prometheus.Counter
	PublishErrors prometheus.Counter
	PortOpen      prometheus.Gauge
}

func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxserial_events_total",
			Help: "Serial port events observed, by kind.",
		}, []string{"kind"}),
		LinesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxserial_lines_received_total",
			Help: "Lines read from the serial port.",
		}),
		LinesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxserial_lines_written_total",
			Help: "Lines written to the serial port.",
		}),
		StreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxserial_stream_errors_total",
			Help: "Event or write streams terminated by an error.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxserial_publish_errors_total",
			Help: "MQTT publishes that failed.",
		}),
		PortOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxserial_port_open",
			Help: "1 while the bridged port is open.",
		}),
	}
	reg.MustRegister(m.Events, m.LinesReceived, m.LinesWritten, m.StreamErrors, m.PublishErrors, m.PortOpen)
	return m
}
