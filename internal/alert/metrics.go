package alert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewalk_alert_messages_total",
			Help: "Text messages handed to the SMS gateway, by alert kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewalk_alert_dispatches_total",
			Help: "Alert dispatches by kind",
		},
		[]string{"kind"},
	)
)
