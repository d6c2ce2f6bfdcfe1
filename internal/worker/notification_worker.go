package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mobibook/internal/config"
	"mobibook/internal/domain"
	"mobibook/internal/events"
	"mobibook/internal/logging"
	"mobibook/internal/metrics"
	"mobibook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const enqueueTimeout = 5 * time.Second

// BookingReader fills in booking fields an event payload does not carry.
type BookingReader interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
}

// NotificationWorker delivers lifecycle notifications outside the request path.
// Tasks are persisted in notification_queue first, then handed over through
// redis or an in-memory channel. The table is polled for anything missed.
type NotificationWorker struct {
	queue         domain.NotificationQueue
	bookings      BookingReader
	notifier      domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	local         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewNotificationWorker builds a worker with sane defaults. redisClient and bookings may be nil.
func NewNotificationWorker(queue domain.NotificationQueue, bookings BookingReader, notifier domain.Notifier, redisClient *redis.Client, cfg config.NotificationsConfig, logger *zerolog.Logger) *NotificationWorker {
	retry := PolicyFromConfig(cfg.Retry)
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.QueueKey == "" {
		cfg.QueueKey = "notifications:queue"
	}
	if cfg.DeadLetterKey == "" {
		cfg.DeadLetterKey = "notifications:deadletter"
	}

	return &NotificationWorker{
		queue:         queue,
		bookings:      bookings,
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry,
		local:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: cfg.QueueKey,
		deadLetterKey: cfg.DeadLetterKey,
		pollInterval:  cfg.PollInterval,
		batchSize:     cfg.BatchSize,
		logger:        logging.Component(logger, "notification_worker"),
	}
}

// Subscribe feeds every booking lifecycle event of bus into the worker.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	for _, eventType := range events.BookingEventTypes() {
		bus.Subscribe(eventType, w.HandleEvent)
	}
}

// HandleEvent turns a published event into a queued notification task.
func (w *NotificationWorker) HandleEvent(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	return w.Enqueue(ctx, event.Type, payload.BookingID, string(event.Payload))
}

// Enqueue persists a task and schedules it via redis or the in-memory queue.
func (w *NotificationWorker) Enqueue(ctx context.Context, eventType string, bookingID int64, payload string) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	if bookingID == 0 {
		return errors.New("booking id is required")
	}

	task := models.NotificationTask{
		EventType: eventType,
		BookingID: bookingID,
		Payload:   payload,
		Status:    models.TaskStatusPending,
	}
	if err := w.queue.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, &task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.local <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("started")
	defer w.logger.Info().Msg("stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}
		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if n := w.drainPending(ctx); n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// drainPending processes one batch of due tasks from the table.
func (w *NotificationWorker) drainPending(ctx context.Context) int {
	tasks, err := w.queue.GetPendingNotificationTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("fetch pending tasks")
		}
		return 0
	}
	for _, t := range tasks {
		w.processTask(ctx, t)
	}
	return len(tasks)
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.local:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("redis BRPOP error")
		}
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	// The same task can arrive from a queue and from polling.
	stored, err := w.queue.GetNotificationTask(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("reload task")
		return
	}
	if stored.Status == models.TaskStatusCompleted || stored.Status == models.TaskStatusFailed {
		return
	}
	task = stored

	n, err := w.buildNotification(ctx, task)
	if err != nil {
		w.failTask(ctx, task, err)
		return
	}

	if err := w.notifier.Notify(ctx, n); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncNotification("sent")
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

// buildNotification delivers the booking as it was when the event fired.
// Payloads without a full snapshot take the fields they lack from the store.
func (w *NotificationWorker) buildNotification(ctx context.Context, task *models.NotificationTask) (models.Notification, error) {
	payload, err := decodePayload(task.Payload)
	if err != nil {
		return models.Notification{}, fmt.Errorf("decode payload: %w", err)
	}
	if payload.Booking != nil {
		return models.Notification{Event: task.EventType, Booking: payload.Booking}, nil
	}

	snapshot := &models.Booking{ID: task.BookingID}
	if w.bookings != nil {
		if b, err := w.bookings.GetBooking(ctx, task.BookingID); err == nil && b != nil {
			stored := *b
			snapshot = &stored
		}
	}
	if payload.Reference != "" {
		snapshot.Reference = payload.Reference
	}
	if payload.SlotID != 0 {
		snapshot.SlotID = payload.SlotID
	}
	if payload.CustomerID != "" {
		snapshot.CustomerID = payload.CustomerID
	}
	if payload.Status != "" {
		snapshot.Status = models.Status(payload.Status)
	}
	if !payload.OccurredAt.IsZero() {
		snapshot.UpdatedAt = payload.OccurredAt
	}
	return models.Notification{Event: task.EventType, Booking: snapshot}, nil
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncNotification("retry")
	nextTime := time.Now().UTC().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	metrics.IncNotification("failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("event", task.EventType).Msg("notification failed")
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
		}
	}
}

func decodePayload(raw string) (events.BookingEventPayload, error) {
	var payload events.BookingEventPayload
	err := json.Unmarshal([]byte(raw), &payload)
	return payload, err
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, task *models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
