package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyhall_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studyhall_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyhall_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	})
)

// Replication metrics
var (
	ReplicationChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyhall_replication_changes_total",
		Help: "Total number of outbox changes pushed to the remote backend",
	}, []string{"result"})

	ReplicationOutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studyhall_replication_outbox_depth",
		Help: "Number of changes waiting to be mirrored",
	})
)

// Business metrics (gauges updated periodically by collector)
var (
	UsersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studyhall_users_total",
		Help: "Total number of registered accounts",
	})

	UsersByRole = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "studyhall_users_by_role",
		Help: "Number of accounts by role",
	}, []string{"role"})

	ActiveBans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studyhall_active_bans",
		Help: "Number of users currently banned",
	})

	EscalationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studyhall_escalations_pending",
		Help: "Number of pending escalation requests",
	})

	FlaggedMessagesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studyhall_flagged_messages_pending",
		Help: "Number of messages awaiting flag review",
	})
)

// Event counters (incremented on occurrence)
var (
	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyhall_login_attempts_total",
		Help: "Total number of login attempts",
	}, []string{"status"})

	BansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyhall_bans_total",
		Help: "Total number of bans issued",
	}, []string{"duration"})

	BanLiftsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyhall_ban_lifts_total",
		Help: "Total number of bans lifted",
	})

	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyhall_escalations_total",
		Help: "Total number of escalation requests filed",
	})

	EscalationsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyhall_escalations_resolved_total",
		Help: "Total number of escalation requests resolved",
	}, []string{"outcome"})

	FlagsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyhall_flags_total",
		Help: "Total number of messages flagged for review",
	})

	FlagResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyhall_flag_resolutions_total",
		Help: "Total number of flag reviews",
	}, []string{"outcome"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyhall_notifications_total",
		Help: "Total number of notifications delivered",
	}, []string{"severity"})

	NotificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyhall_notification_failures_total",
		Help: "Total number of notifications that could not be delivered",
	})
)

// NormalizePath reduces high-cardinality path labels by replacing dynamic
// segments with placeholders. This keeps the metric label space bounded.
func NormalizePath(path string) string {
	segments := splitPath(path)
	if len(segments) < 3 || segments[0] != "api" {
		return path
	}

	switch segments[1] {
	case "users":
		switch len(segments) {
		case 3:
			return "/api/users/:email"
		case 4:
			return "/api/users/:email/" + segments[3]
		}
	case "escalations":
		if len(segments) == 4 {
			return "/api/escalations/:id/" + segments[3]
		}
	case "messages":
		if len(segments) == 4 {
			return "/api/messages/:id/" + segments[3]
		}
	case "rooms":
		if len(segments) == 4 {
			return "/api/rooms/:room/" + segments[3]
		}
	}

	return path
}

func splitPath(path string) []string {
	// Skip leading slash
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	// Split on /
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segments = append(segments, path[start:])
	}
	return segments
}
