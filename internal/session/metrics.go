package session

import "github.com/prometheus/client_golang/prometheus"

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "authcore_session_transitions_total",
	Help: "Session watchdog state transitions by destination state.",
}, []string{"state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}
