// Package metrics holds the Prometheus collectors of the verification pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailprobe_verifications_total",
			Help: "Total number of completed verification runs by verdict",
		},
		[]string{"reachability"},
	)

	VerificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emailprobe_verification_duration_seconds",
			Help:    "Wall-clock duration of verification runs",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SMTPAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailprobe_smtp_attempts_total",
			Help: "Total number of SMTP host attempts by transport outcome and verdict",
		},
		[]string{"outcome", "verdict"},
	)

	GreylistRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emailprobe_greylist_retries_total",
			Help: "Total number of same-host retries after a transient RCPT reply",
		},
	)

	DNSLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailprobe_dns_lookups_total",
			Help: "Total number of DNS lookups by record type and result",
		},
		[]string{"type", "result"}, // result: ok, cached, shared, notfound, timeout, error
	)
)
