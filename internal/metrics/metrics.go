// Package metrics exposes Prometheus counters for the voice session on a
// private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interview"

// Session holds the realtime session instruments.
type Session struct {
	FramesCaptured   prometheus.Counter
	FramesSent       prometheus.Counter
	FramesDropped    prometheus.Counter
	SendErrors       prometheus.Counter
	DecodeErrors     prometheus.Counter
	BuffersScheduled prometheus.Counter
	Interruptions    prometheus.Counter
	TurnsCommitted   prometheus.Counter
	Connects         *prometheus.CounterVec
	Connected        prometheus.Gauge

	registry *prometheus.Registry
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      name,
		Help:      help,
	})
}

// NewSession registers every instrument plus the Go runtime and process
// collectors on a fresh registry.
func NewSession() *Session {
	s := &Session{
		FramesCaptured:   counter("frames_captured_total", "Microphone frames captured."),
		FramesSent:       counter("frames_sent_total", "Encoded frames sent to the realtime endpoint."),
		FramesDropped:    counter("frames_dropped_total", "Frames dropped because the send queue was full."),
		SendErrors:       counter("send_errors_total", "Frame sends that failed."),
		DecodeErrors:     counter("audio_decode_errors_total", "Server audio payloads that failed to decode."),
		BuffersScheduled: counter("playback_buffers_scheduled_total", "Playback buffers placed on the output clock."),
		Interruptions:    counter("interruptions_total", "Server barge-in signals."),
		TurnsCommitted:   counter("turns_committed_total", "Turn-complete signals processed."),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Connect attempts by outcome.",
		}, []string{"outcome"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while a realtime session is live.",
		}),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		s.FramesCaptured, s.FramesSent, s.FramesDropped, s.SendErrors,
		s.DecodeErrors, s.BuffersScheduled, s.Interruptions, s.TurnsCommitted,
		s.Connects, s.Connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

func (s *Session) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format.
func (s *Session) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
