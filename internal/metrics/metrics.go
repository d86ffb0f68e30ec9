package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csat_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csat_submissions_total",
			Help: "Survey submissions by outcome",
		},
		[]string{"outcome"},
	)

	OTPEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csat_otp_events_total",
			Help: "One-time code events by kind (issued, rate_limited, verified, rejected, locked)",
		},
		[]string{"event"},
	)

	MailFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csat_mail_failures_total",
			Help: "Outgoing mails that could not be delivered",
		},
		[]string{"kind"},
	)

	CatalogQuestions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "csat_catalog_questions",
			Help: "Number of questions in the active catalog snapshot",
		},
	)

	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csat_catalog_reloads_total",
			Help: "Catalog reload attempts by result",
		},
		[]string{"result"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csat_job_runs_total",
			Help: "Scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)
)
