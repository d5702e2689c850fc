package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appcore_logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appcore_logins_failure_total",
		Help: "Total number of rejected logins.",
	})
	TokensRefreshedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appcore_tokens_refreshed_total",
		Help: "Total number of successful token refreshes.",
	})
	RefreshFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appcore_refresh_failure_total",
		Help: "Total number of failed token refreshes.",
	})
	ActiveSessionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "appcore_active_session_gauge",
		Help: "Whether an authenticated session is currently held (0 or 1).",
	})
	PushAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appcore_push_register_attempts_total",
		Help: "Total number of individual push registration network attempts.",
	})
	PushRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appcore_push_registered_total",
		Help: "Total number of successful push registrations.",
	})
	PushExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appcore_push_register_exhausted_total",
		Help: "Total number of registration cycles that exhausted all attempts.",
	})
)

// Register registers the client-core metrics with the given registerer.
// It should be called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("prometheus registry is nil, cannot register metrics")
		return
	}
	collectors := []prometheus.Collector{
		LoginSuccessTotal,
		LoginFailureTotal,
		TokensRefreshedTotal,
		RefreshFailureTotal,
		ActiveSessionGauge,
		PushAttemptsTotal,
		PushRegisteredTotal,
		PushExhaustedTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric")
		}
	}
}
