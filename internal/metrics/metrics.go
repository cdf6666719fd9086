package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "credgate"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	reg prometheus.Registerer

	logins      *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	authorizes  *prometheus.CounterVec
	revocations *prometheus.CounterVec
	lockouts    prometheus.Counter
	storeErrors *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg. A nil reg keeps them
// unregistered, which is what tests and embedded engines usually want.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		authorizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizations_total",
			Help:      "Authorization decisions by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Revocation writes by kind and result.",
		}, []string{"kind", "result"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockout_rejections_total",
			Help:      "Login attempts rejected because an identity was locked.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Backing store failures by component.",
		}, []string{"component"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operator_alerts_total",
			Help:      "Writes abandoned after retries, by operation.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.logins, m.refreshes, m.authorizes, m.revocations,
		m.lockouts, m.storeErrors, m.alerts, m.duration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WatchAuditDrops exposes fn as a counter of login log entries the dispatcher discarded.
func (m *Metrics) WatchAuditDrops(fn func() uint64) error {
	if m == nil || m.reg == nil || fn == nil {
		return nil
	}
	return m.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loginlog_dropped_total",
		Help:      "Login log entries dropped because the buffer was full.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Authorize(outcome string) {
	if m == nil {
		return
	}
	m.authorizes.WithLabelValues(outcome).Inc()
}

// Revocation records a revocation write. kind is "token" or "principal".
func (m *Metrics) Revocation(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.revocations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) StoreError(component string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(component).Inc()
}

func (m *Metrics) Alert(op string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(op).Inc()
}

// Since observes the time elapsed from start under op.
func (m *Metrics) Since(op string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
