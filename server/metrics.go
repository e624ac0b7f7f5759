package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var upgradeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "server",
	Name:      "ws_upgrades_total",
	Help:      "Websocket upgrade attempts by result.",
}, []string{"result"})

var droppedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "server",
	Name:      "ws_dropped_frames_total",
	Help:      "Outgoing frames dropped because the send buffer was full.",
})

func observeUpgrade(result string) {
	if len(result) == 0 {
		return
	}
	upgradeCounter.With(prometheus.Labels{"result": result}).Inc()
}

func observeDropped() {
	droppedCounter.Inc()
}
