package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	SignUpSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_signups_success_total",
		Help: "Total number of successful sign-ups.",
	})
	SignInSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_signins_success_total",
		Help: "Total number of successful sign-ins.",
	})
	VerificationFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_verification_failures_total",
		Help: "Total number of provider token verifications that failed.",
	})
	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_device_tokens_issued_total",
		Help: "Total number of device tokens minted.",
	})
	TokensRotatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_device_tokens_rotated_total",
		Help: "Total number of device tokens rotated in place.",
	})
	TokensEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_device_tokens_evicted_total",
		Help: "Total number of device tokens evicted by the device bound.",
	})
	SignOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_signouts_total",
		Help: "Total number of sign-outs.",
	})
)

// Register registers the service metrics with reg. Call once at startup;
// the counters themselves are usable (unregistered) before that, which keeps
// tests free of registry setup.
func Register(reg prometheus.Registerer) {
	collectors := []prometheus.Collector{
		SignUpSuccessTotal,
		SignInSuccessTotal,
		VerificationFailureTotal,
		TokensIssuedTotal,
		TokensRotatedTotal,
		TokensEvictedTotal,
		SignOutTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}
