package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "QR scans processed, by outcome.",
	}, []string{"outcome"})

	ManualMarksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_manual_marks_total",
		Help: "Manual attendance overrides, by requested presence.",
	}, []string{"present"})

	SessionsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_sessions_started_total",
		Help: "Attendance sessions started.",
	})

	SessionsEndedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_sessions_ended_total",
		Help: "Attendance sessions ended.",
	})

	CredentialsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_credentials_issued_total",
		Help: "QR credentials issued.",
	})

	EventPublishFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_event_publish_failures_total",
		Help: "Attendance events that could not be queued.",
	})

	EventsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_events_processed_total",
		Help: "Attendance events consumed by the worker, by result.",
	}, []string{"result"})
)

// Register adds the collectors to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("prometheus registry is nil, metrics not registered")
		return
	}
	collectors := []prometheus.Collector{
		ScansTotal,
		ManualMarksTotal,
		SessionsStartedTotal,
		SessionsEndedTotal,
		CredentialsIssuedTotal,
		EventPublishFailuresTotal,
		EventsProcessedTotal,
		HTTPRequestsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric")
		}
	}
}

// HTTPRequestsTotal counts requests served by the API.
var HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_http_requests_total",
	Help: "HTTP requests served, by route and status class.",
}, []string{"route", "status"})
