package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Job actions carried on the reminder queue.
const (
	ActionSchedule = "schedule"
	ActionCancel   = "cancel"
)

// Job is the JSON body of a reminder queue message.
type Job struct {
	Action     string `json:"action"`
	ReminderID string `json:"reminderId"`
	BookTitle  string `json:"bookTitle,omitempty"`
	Time       string `json:"time,omitempty"`
	DaysOfWeek []int  `json:"daysOfWeek,omitempty"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueScheduler hands schedule/cancel jobs to a RabbitMQ queue; a worker
// consuming that queue owns the actual timers.
type QueueScheduler struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	pub    publisher
	queue  string
	logger *slog.Logger
}

// DialQueue connects to RabbitMQ and declares the durable reminder queue.
func DialQueue(url, queue string, logger *slog.Logger) (*QueueScheduler, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	logger.Info("reminder queue ready", "queue", q.Name, "messages", q.Messages)
	return &QueueScheduler{conn: conn, ch: ch, pub: ch, queue: q.Name, logger: logger}, nil
}

func (q *QueueScheduler) Schedule(ctx context.Context, reminderID, bookTitle, at string, daysOfWeek []int) error {
	return q.publish(ctx, Job{Action: ActionSchedule, ReminderID: reminderID, BookTitle: bookTitle, Time: at, DaysOfWeek: daysOfWeek})
}

func (q *QueueScheduler) Cancel(ctx context.Context, reminderID string) error {
	return q.publish(ctx, Job{Action: ActionCancel, ReminderID: reminderID})
}

func (q *QueueScheduler) publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s job: %w", job.Action, err)
	}
	q.logger.Debug("reminder job published", "action", job.Action, "reminder_id", job.ReminderID)
	return nil
}

// Consume applies queued jobs to target until ctx is done or the channel closes.
// Malformed jobs are dropped; jobs that fail are requeued once.
func (q *QueueScheduler) Consume(ctx context.Context, target *LocalScheduler) error {
	msgs, err := q.ch.Consume(
		q.queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	q.logger.Info("consuming reminder jobs", "queue", q.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("reminder queue closed")
			}
			var job Job
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				q.logger.Error("malformed reminder job", "error", err)
				msg.Nack(false, false)
				continue
			}
			if err := Apply(ctx, target, job); err != nil {
				q.logger.Error("reminder job failed", "action", job.Action, "reminder_id", job.ReminderID, "error", err)
				msg.Nack(false, !msg.Redelivered)
				continue
			}
			msg.Ack(false)
		}
	}
}

// Apply runs one job against target.
func Apply(ctx context.Context, target *LocalScheduler, job Job) error {
	switch job.Action {
	case ActionSchedule:
		return target.Schedule(ctx, job.ReminderID, job.BookTitle, job.Time, job.DaysOfWeek)
	case ActionCancel:
		return target.Cancel(ctx, job.ReminderID)
	default:
		return fmt.Errorf("unknown action %q", job.Action)
	}
}

// Close releases the channel and connection.
func (q *QueueScheduler) Close() error {
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}
	return errors.Join(errs...)
}
