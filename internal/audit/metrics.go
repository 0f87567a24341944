package audit

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_audit_events_total",
		Help: "Audit events written, by result.",
	}, []string{"result"})

	writeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authcore_audit_write_failures_total",
		Help: "Audit events that could not be persisted.",
	})

	alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_security_alerts_total",
		Help: "Security alerts raised, by type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(eventsTotal, writeFailuresTotal, alertsTotal)
}
