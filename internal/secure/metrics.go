package secure

import "github.com/prometheus/client_golang/prometheus"

var decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "authcore_secure_action_decisions_total",
	Help: "Secure action outcomes by action and outcome.",
}, []string{"action", "outcome"})

func init() {
	prometheus.MustRegister(decisionsTotal)
}
