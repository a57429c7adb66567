package authclient

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics counts identity operations. A nil *Metrics is a no-op.
type Metrics struct {
	logins             *prometheus.CounterVec
	securityRejections *prometheus.CounterVec
	refreshes          *prometheus.CounterVec
	links              *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devdash",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		securityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devdash",
			Subsystem: "auth",
			Name:      "redirect_rejections_total",
			Help:      "Redirect callbacks rejected by the anti-forgery check.",
		}, []string{"provider"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devdash",
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Token refreshes by outcome.",
		}, []string{"outcome"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devdash",
			Subsystem: "auth",
			Name:      "secondary_link_operations_total",
			Help:      "Secondary account link operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.logins, m.securityRejections, m.refreshes, m.links} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Logins exposes the login counter.
func (m *Metrics) Logins() *prometheus.CounterVec { return m.logins }

// SecurityRejections exposes the redirect rejection counter.
func (m *Metrics) SecurityRejections() *prometheus.CounterVec { return m.securityRejections }

// Refreshes exposes the refresh counter.
func (m *Metrics) Refreshes() *prometheus.CounterVec { return m.refreshes }

// Links exposes the secondary link counter.
func (m *Metrics) Links() *prometheus.CounterVec { return m.links }

func (m *Metrics) login(method Method, err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(string(method.Kind), outcome(err)).Inc()
}

func (m *Metrics) rejected(provider string) {
	if m == nil {
		return
	}
	m.securityRejections.WithLabelValues(provider).Inc()
}

func (m *Metrics) refresh(err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome(err)).Inc()
}

// LinkOperation records a secondary link operation.
func (m *Metrics) LinkOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(operation, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return outcomeFailure
	}
	return outcomeSuccess
}
