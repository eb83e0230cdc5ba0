package sessions

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wabridge"

type metrics struct {
	active        prometheus.GaugeFunc
	created       prometheus.Counter
	createFailed  prometheus.Counter
	destroyed     prometheus.Counter
	crashed       prometheus.Counter
	restored      *prometheus.CounterVec // result
	stepFailures  *prometheus.CounterVec // step
	sendDuration  *prometheus.HistogramVec
	releaseErrors prometheus.Counter
}

func newMetrics(active func() float64) *metrics {
	return &metrics{
		active: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Sessions currently in the registry.",
		}, active),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total",
			Help: "Sessions created successfully, including restores.",
		}),
		createFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_create_failures_total",
			Help: "Session creations that failed and were rolled back.",
		}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_destroyed_total",
			Help: "Sessions removed by destroy.",
		}),
		crashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_crashed_total",
			Help: "Sessions evicted because their browser became unreachable.",
		}),
		restored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_restore_total",
			Help: "Journal entries processed at startup by result.",
		}, []string{"result"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "automation_step_failures_total",
			Help: "Message sends that failed, by step label.",
		}, []string{"step"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "automation_send_duration_seconds",
			Help:    "Duration of message sends by result.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"result"}),
		releaseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_release_errors_total",
			Help: "Resource release steps that failed during teardown.",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.active, m.created, m.createFailed, m.destroyed, m.crashed,
		m.restored, m.stepFailures, m.sendDuration, m.releaseErrors,
	}
}

// register adds the collectors to reg, tolerating ones already registered by an
// earlier registry on the same Registerer.
func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
