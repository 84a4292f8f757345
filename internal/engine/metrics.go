package engine

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewalk_engine_events_total",
			Help: "Events applied by device engines, by event type",
		},
		[]string{"event"},
	)

	triggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safewalk_triggers_total",
			Help: "Named triggers handled, including shake and timer driven ones",
		},
		[]string{"trigger"},
	)

	timerEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safewalk_engine_timer_events_dropped_total",
		Help: "Timer firings discarded because their engine had stopped",
	})

	activeEngines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safewalk_active_engines",
		Help: "Device engines currently running",
	})
)

// eventName turns engine.accelEvent into "accel".
func eventName(ev event) string {
	name := fmt.Sprintf("%T", ev)
	name = strings.TrimPrefix(name, "engine.")
	return strings.TrimSuffix(name, "Event")
}
