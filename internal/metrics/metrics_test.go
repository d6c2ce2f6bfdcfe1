package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	// IncHTTP should not panic
	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(reservations.WithLabelValues("ok"))
	IncReservation("ok")
	assert.Equal(t, before+1, testutil.ToFloat64(reservations.WithLabelValues("ok")))

	IncTransition("pending", "confirmed")
	assert.GreaterOrEqual(t, testutil.ToFloat64(transitions.WithLabelValues("pending", "confirmed")), 1.0)

	failures := testutil.ToFloat64(auditFailures)
	IncAuditFailure()
	assert.Equal(t, failures+1, testutil.ToFloat64(auditFailures))

	IncGRPC("/mobibook.booking.v1.BookingService/Reserve", "OK")
	assert.GreaterOrEqual(t, testutil.ToFloat64(grpcRequests.WithLabelValues("/mobibook.booking.v1.BookingService/Reserve", "OK")), 1.0)

	IncCompensation("ok")
	IncNotification("sent")
	assert.GreaterOrEqual(t, testutil.ToFloat64(notifications.WithLabelValues("sent")), 1.0)
}
