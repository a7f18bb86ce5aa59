package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conveyor/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunPending   MessageType = "run.pending"
	MessageTypeRunCancelled MessageType = "run.cancelled"
	MessageTypeJobReady     MessageType = "job.ready"
	MessageTypeJobCompleted MessageType = "job.completed"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunPendingPayload — payload для сообщения о новом run.
type RunPendingPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunCancelledPayload — payload для broadcast-сообщения об отмене run.
type RunCancelledPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// JobReadyPayload — payload для сообщения о готовом job.
type JobReadyPayload struct {
	JobID uuid.UUID `json:"job_id"`
	RunID uuid.UUID `json:"run_id"`
}

// JobCompletedPayload — payload для сообщения о завершённом job.
//
// Annotations переносит аннотации tolerated-шагов: оркестратор
// атрибутирует их к run и сохраняет через Reporter.
type JobCompletedPayload struct {
	JobID       uuid.UUID           `json:"job_id"`
	RunID       uuid.UUID           `json:"run_id"`
	JobName     string              `json:"job_name"`
	Outcome     domain.JobOutcome   `json:"outcome"`
	SoftFailed  bool                `json:"soft_failed,omitempty"`
	Error       string              `json:"error,omitempty"`
	Annotations []domain.Annotation `json:"annotations,omitempty"`
	Steps       []domain.StepResult `json:"steps,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishRunPending публикует событие о новом run, ожидающем оркестрации.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRunPending(ctx context.Context, runID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunPending,
		Payload:   RunPendingPayload{RunID: runID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyPending, msg)
}

// PublishRunCancelled публикует broadcast об отмене run.
// Потребители: все воркеры (каждый прерывает свои jobs этого run).
func (p *Publisher) PublishRunCancelled(ctx context.Context, runID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunCancelled,
		Payload:   RunCancelledPayload{RunID: runID},
		Timestamp: time.Now(),
	}

	// fanout игнорирует routing key
	return p.Publish(ctx, ExchangeRunsCancelled, "", msg)
}

// PublishJobReady публикует событие о job, готовом к выполнению.
// Потребитель: Worker.
func (p *Publisher) PublishJobReady(ctx context.Context, jobID, runID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobReady,
		Payload:   JobReadyPayload{JobID: jobID, RunID: runID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeJobs, RoutingKeyReady, msg)
}

// PublishJobCompleted публикует событие о завершённом job.
// Потребитель: Orchestrator.
func (p *Publisher) PublishJobCompleted(ctx context.Context, payload JobCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeJobs, RoutingKeyCompleted, msg)
}
