package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientSources exposes the pipeline's own counters. Any field may be nil.
type ClientSources struct {
	Capture    func() CaptureStats
	Broadcast  func() BroadcastStats
	Reconcile  func() ReconcileStats
	RenderTick func() uint64
}

type CaptureStats struct {
	Ticks, Duplicates, Inferences, NoFace, Errors, Emitted uint64
}

type BroadcastStats struct {
	Published, Discarded, Failed uint64
}

type ReconcileStats struct {
	Applied, Undecodable, SelfEcho, Departed uint64
	Participants                             int
}

// Client reads pipeline counters at scrape time.
type Client struct {
	registry *prometheus.Registry
}

func NewClient(namespace string, src ClientSources) *Client {
	if namespace == "" {
		namespace = "mimic_client"
	}
	registry := prometheus.NewRegistry()
	counter := func(name, help string, f func() float64) {
		registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, f))
	}

	if src.Capture != nil {
		c := src.Capture
		counter("capture_ticks_total", "Paint frames seen by the capture loop", func() float64 { return float64(c().Ticks) })
		counter("capture_duplicate_frames_total", "Frames skipped because the video time did not advance", func() float64 { return float64(c().Duplicates) })
		counter("inferences_total", "Landmark inferences run", func() float64 { return float64(c().Inferences) })
		counter("inference_no_face_total", "Inferences that found no face", func() float64 { return float64(c().NoFace) })
		counter("inference_errors_total", "Inferences that failed", func() float64 { return float64(c().Errors) })
		counter("face_states_emitted_total", "Local face states emitted", func() float64 { return float64(c().Emitted) })
	}
	if src.Broadcast != nil {
		b := src.Broadcast
		counter("face_states_published_total", "Face states handed to the transport", func() float64 { return float64(b().Published) })
		counter("face_states_discarded_total", "Face states discarded while not connected", func() float64 { return float64(b().Discarded) })
		counter("face_states_publish_failed_total", "Face states the transport refused", func() float64 { return float64(b().Failed) })
	}
	if src.Reconcile != nil {
		r := src.Reconcile
		counter("messages_applied_total", "Remote face states applied", func() float64 { return float64(r().Applied) })
		counter("messages_undecodable_total", "Remote messages dropped as undecodable", func() float64 { return float64(r().Undecodable) })
		counter("messages_self_echo_total", "Own messages echoed back and dropped", func() float64 { return float64(r().SelfEcho) })
		counter("messages_departed_total", "Messages from departed participants dropped", func() float64 { return float64(r().Departed) })
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Entries in the participant map",
		}, func() float64 { return float64(r().Participants) }))
	}
	if src.RenderTick != nil {
		counter("render_frames_total", "Render frames driven", func() float64 { return float64(src.RenderTick()) })
	}
	return &Client{registry: registry}
}

func (m *Client) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Client) Registry() *prometheus.Registry { return m.registry }
