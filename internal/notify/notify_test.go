package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mobibook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotification() models.Notification {
	return models.Notification{
		Event:   "booking_created",
		Booking: &models.Booking{ID: 5, Reference: "MB-1", CustomerID: "cust-1", Status: models.StatusPending},
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	require.NoError(t, NewLogNotifier(&logger).Notify(context.Background(), testNotification()))
	assert.Contains(t, buf.String(), `"reference":"MB-1"`)
	assert.Contains(t, buf.String(), `"event":"booking_created"`)

	require.NoError(t, NopNotifier{}.Notify(context.Background(), testNotification()))
}

func TestWebhookNotifier(t *testing.T) {
	t.Run("Delivered", func(t *testing.T) {
		var got models.Notification
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "booking_created", r.Header.Get("X-Mobibook-Event"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), testNotification())
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Booking.ID)
	})

	t.Run("Non2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), testNotification())
		assert.ErrorContains(t, err, "502")
	})

	t.Run("Timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		err := NewWebhookNotifier(srv.URL, 20*time.Millisecond).Notify(context.Background(), testNotification())
		assert.Error(t, err)
	})
}
