package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Exact routes (no normalization needed)
		{"/", "/"},
		{"/metrics", "/metrics"},
		{"/api/me", "/api/me"},
		{"/api/users", "/api/users"},
		{"/api/escalations", "/api/escalations"},
		{"/api/bans/durations", "/api/bans/durations"},
		{"/api/moderation/flagged", "/api/moderation/flagged"},
		{"/api/moderation/dashboard", "/api/moderation/dashboard"},
		{"/api/notifications/read", "/api/notifications/read"},

		// Users
		{"/api/users/bob@example.com", "/api/users/:email"},
		{"/api/users/bob@example.com/role", "/api/users/:email/role"},
		{"/api/users/bob@example.com/ban", "/api/users/:email/ban"},

		// Escalations and messages
		{"/api/escalations/3jzfcijpj2z2a/resolve", "/api/escalations/:id/resolve"},
		{"/api/messages/3jzfcijpj2z2a/flag", "/api/messages/:id/flag"},
		{"/api/messages/3jzfcijpj2z2a/resolve", "/api/messages/:id/resolve"},

		// Rooms
		{"/api/rooms/general/messages", "/api/rooms/:room/messages"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.input))
		})
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollect(t *testing.T) {
	collect(StatsSource{
		UserCount:           func() int { return 12 },
		PendingEscalations:  func() int { return 3 },
		FlaggedMessageCount: func() int { return 2 },
		UserCountByRole: func() map[string]int {
			return map[string]int{"student": 9, "admin": 1}
		},
	})

	assert.Equal(t, float64(12), gaugeValue(t, UsersTotal))
	assert.Equal(t, float64(3), gaugeValue(t, EscalationsPending))
	assert.Equal(t, float64(2), gaugeValue(t, FlaggedMessagesPending))
	assert.Equal(t, float64(9), gaugeValue(t, UsersByRole.WithLabelValues("student")))
}

func TestCollect_UnavailableSourceKeepsPreviousValue(t *testing.T) {
	collect(StatsSource{OutboxDepth: func() int { return 5 }})
	collect(StatsSource{OutboxDepth: func() int { return -1 }})

	assert.Equal(t, float64(5), gaugeValue(t, ReplicationOutboxDepth))
}
