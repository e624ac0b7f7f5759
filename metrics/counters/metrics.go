package counters

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "gateway",
	Name:      "sessions_active",
	Help:      "Number of active client sessions by state.",
}, []string{"state"})

var usersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "gateway",
	Name:      "users_active",
	Help:      "Number of users with at least one authenticated session.",
})

var linksGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "gateway",
	Name:      "links_connected",
	Help:      "Number of connected charge point links.",
})

func ObserveSessions(total, authenticated, users int) {
	sessionsGauge.With(prometheus.Labels{"state": "total"}).Set(float64(total))
	sessionsGauge.With(prometheus.Labels{"state": "authenticated"}).Set(float64(authenticated))
	usersGauge.Set(float64(users))
}

func ObserveLinks(connected int) {
	linksGauge.Set(float64(connected))
}

var rejectedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "sessions_closed_total",
	Help:      "Sessions closed by the gateway, by reason.",
}, []string{"reason"})

func CountClosed(reason string) {
	if len(reason) == 0 {
		return
	}
	rejectedCounter.With(prometheus.Labels{"reason": reason}).Inc()
}

var messageCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "client_messages_total",
	Help:      "Client messages handled, by type and outcome.",
}, []string{"type", "outcome"})

func CountMessage(messageType, outcome string) {
	if len(messageType) == 0 {
		messageType = "unknown"
	}
	messageCounter.With(prometheus.Labels{"type": messageType, "outcome": outcome}).Inc()
}

var callCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "calls_total",
	Help:      "OCPP calls sent to charge points, by action and result.",
}, []string{"action", "result"})

var callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ocpp",
	Name:      "call_duration_seconds",
	Help:      "Time from sending an OCPP call to its result.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
}, []string{"action"})

func ObserveCall(action, result string, duration time.Duration) {
	if len(action) == 0 {
		return
	}
	callCounter.With(prometheus.Labels{"action": action, "result": result}).Inc()
	callDuration.With(prometheus.Labels{"action": action}).Observe(duration.Seconds())
}
