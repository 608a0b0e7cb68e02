package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fallguard/config"
	"fallguard/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQSource consumes stream-tagged sensor samples from a queue
type RabbitMQSource struct {
	config    *config.Config
	ingestor  *SensorIngestor
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *zap.Logger
	reconnect chan bool

	mu        sync.Mutex
	isClosing bool
}

// NewRabbitMQSource connects to RabbitMQ and declares the sample queue
func NewRabbitMQSource(cfg *config.Config, ingestor *SensorIngestor, logger *zap.Logger) (*RabbitMQSource, error) {
	source := &RabbitMQSource{
		config:    cfg,
		ingestor:  ingestor,
		logger:    logger,
		reconnect: make(chan bool, 1),
	}

	if err := source.connect(); err != nil {
		return nil, err
	}

	return source, nil
}

// connect establishes connection to RabbitMQ and declares exchange and queue
func (r *RabbitMQSource) connect() error {
	var err error

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.config.RabbitMQExchange))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		r.conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.channel, err = r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Samples are small and frequent
	if err = r.channel.Qos(50, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = r.channel.ExchangeDeclare(
		r.config.RabbitMQExchange, // name
		"direct",                  // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := r.channel.QueueDeclare(
		r.config.RabbitMQQueue, // name
		true,                   // durable
		false,                  // delete when unused
		false,                  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err = r.channel.QueueBind(queue.Name, r.config.RabbitMQQueue, r.config.RabbitMQExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// Devices publishing over the broker's MQTT plugin land on amq.topic
	if err = r.channel.QueueBind(queue.Name, r.config.RabbitMQQueue, "amq.topic", false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
	}

	r.logger.Info("Queue bound",
		zap.String("queue", queue.Name),
		zap.String("exchange", r.config.RabbitMQExchange))

	go r.handleReconnect(r.conn)

	return nil
}

func (r *RabbitMQSource) closing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isClosing
}

// handleReconnect reconnects when the connection is lost
func (r *RabbitMQSource) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if r.closing() {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for !r.closing() {
		r.logger.Info("Attempting to reconnect to RabbitMQ")
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			select {
			case r.reconnect <- true:
			default:
			}
			return
		}
		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

// Consume feeds samples to the ingestor until ctx is cancelled
func (r *RabbitMQSource) Consume(ctx context.Context) error {
	for {
		msgs, err := r.channel.Consume(
			r.config.RabbitMQQueue, // queue
			"fallguard",            // consumer tag
			false,                  // auto-ack
			false,                  // exclusive
			false,                  // no-local
			false,                  // no-wait
			nil,                    // args
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		r.logger.Info("Started consuming sensor samples", zap.String("queue", r.config.RabbitMQQueue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Stopping RabbitMQ consumer")
				return nil

			case <-r.reconnect:
				r.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn("Message channel closed")
					select {
					case <-ctx.Done():
						return nil
					case <-r.reconnect:
					}
					break consumeLoop
				}

				if err := r.processMessage(msg.Body); err != nil {
					r.logger.Warn("Rejecting sensor message",
						zap.Error(err),
						zap.String("message_id", msg.MessageId))
					// malformed samples are never redelivered
					msg.Reject(false)
				} else {
					msg.Ack(false)
				}
			}
		}
	}
}

// processMessage decodes one sample and hands it to the ingestor
func (r *RabbitMQSource) processMessage(body []byte) error {
	sample, err := ParseStreamSample(body)
	if err != nil {
		return err
	}
	r.ingestor.OnSample(sample.Stream, sample.SensorSample)
	return nil
}

// ParseStreamSample decodes a {stream, x, y, z, captured_at} message
func ParseStreamSample(body []byte) (models.StreamSample, error) {
	var head struct {
		Stream models.StreamID `json:"stream"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return models.StreamSample{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if head.Stream == "" {
		return models.StreamSample{}, fmt.Errorf("invalid sample: missing stream")
	}
	sample, err := ParseSample(body)
	if err != nil {
		return models.StreamSample{}, err
	}
	return models.StreamSample{Stream: head.Stream, SensorSample: sample}, nil
}

// Publish sends a sample to the exchange
func (r *RabbitMQSource) Publish(ctx context.Context, s models.StreamSample) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	err = r.channel.PublishWithContext(ctx,
		r.config.RabbitMQExchange, // exchange
		r.config.RabbitMQQueue,    // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQSource) Close() error {
	r.mu.Lock()
	r.isClosing = true
	r.mu.Unlock()

	r.logger.Info("Closing RabbitMQ connection")

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
