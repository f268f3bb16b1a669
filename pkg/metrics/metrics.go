package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts start attempts, successful or not.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lingcall",
		Name:      "sessions_started_total",
		Help:      "Number of session start attempts.",
	})

	// SessionFailures counts failed start attempts by failing stage.
	SessionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lingcall",
		Name:      "session_failures_total",
		Help:      "Number of failed session start attempts by stage.",
	}, []string{"stage"})

	// ActiveSessions tracks sessions currently live.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lingcall",
		Name:      "active_sessions",
		Help:      "Number of live sessions.",
	})

	// TrackAttaches counts remote audio tracks attached for playback.
	TrackAttaches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lingcall",
		Name:      "track_attaches_total",
		Help:      "Number of remote audio tracks attached.",
	})

	// TrackDetaches counts remote audio tracks detached.
	TrackDetaches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lingcall",
		Name:      "track_detaches_total",
		Help:      "Number of remote audio tracks detached.",
	})
)
