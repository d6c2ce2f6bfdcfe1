package database

import (
	"context"
	"testing"
	"time"

	"mobibook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationQueueCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.NotificationTask{
		EventType: "booking_created",
		BookingID: 100,
		Payload:   `{"test": true}`,
	}

	// Create
	require.NoError(t, db.CreateNotificationTask(ctx, task))
	assert.Equal(t, models.TaskStatusPending, task.Status)

	// Get Pending
	tasks, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(100), tasks[0].BookingID)

	// Retry in the future hides the task
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, "timeout", &future))
	tasks, err = db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	got, err := db.GetNotificationTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "timeout", *got.LastError)

	// Failed
	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, "gave up", nil))
	failed, err := db.GetFailedNotificationTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.NotNil(t, failed[0].ProcessedAt)
	assert.Nil(t, failed[0].NextRetryAt)

	_, err = db.GetNotificationTask(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
