package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stockflow/stockflow-backend/pkg/config"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

// DeadLetterExchange receives messages rejected after their final retry
const DeadLetterExchange = "dlx.events"

// RabbitMQ owns the broker connection and the channel shared by the
// publisher and consumers of one service
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	logger  *logger.Logger
	mu      sync.RWMutex
	closed  bool
	hooks   []func() error
}

// New dials RabbitMQ
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		config: cfg,
		logger: log.WithComponent("rabbitmq"),
	}

	if err := rmq.connect(); err != nil {
		return nil, err
	}

	return rmq, nil
}

// connect replaces the connection and channel. Callers other than New hold mu.
func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if r.config.PrefetchCount > 0 {
		if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	r.conn, r.channel = conn, ch
	r.logger.Info().Msg("connected to RabbitMQ")
	return nil
}

// Channel returns the current channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// OnReconnect registers fn to run after the connection has been re-dialled.
// Consumers use it to resume consuming on the new channel.
func (r *RabbitMQ) OnReconnect(fn func() error) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Watch re-dials the broker whenever the connection drops, until ctx is
// done or Close is called.
func (r *RabbitMQ) Watch(ctx context.Context) {
	go func() {
		for {
			r.mu.RLock()
			lost := r.conn.NotifyClose(make(chan *amqp.Error, 1))
			r.mu.RUnlock()

			select {
			case <-ctx.Done():
				return
			case amqpErr, ok := <-lost:
				if !ok || amqpErr == nil {
					// closed by us
					return
				}
				r.logger.Warn().Str("reason", amqpErr.Reason).Int("code", amqpErr.Code).Msg("RabbitMQ connection lost")
			}

			if err := r.reconnect(ctx); err != nil {
				r.logger.Error().Err(err).Msg("giving up on RabbitMQ")
				return
			}
			r.runHooks()
		}
	}()
}

func (r *RabbitMQ) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= r.config.MaxRetries; attempt++ {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return errors.New("connection is permanently closed")
		}
		err := r.connect()
		r.mu.Unlock()

		if err == nil {
			r.logger.Info().Int("attempt", attempt).Msg("reconnected to RabbitMQ")
			return nil
		}
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnection attempt failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.config.ReconnectDelay):
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts", r.config.MaxRetries)
}

func (r *RabbitMQ) runHooks() {
	r.mu.RLock()
	hooks := append([]func() error(nil), r.hooks...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(); err != nil {
			r.logger.Error().Err(err).Msg("reconnect hook failed")
		}
	}
}

// Close closes the RabbitMQ connection
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}

	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health returns the health status of RabbitMQ
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return map[string]string{"status": "down", "error": "connection closed"}
	}
	return map[string]string{"status": "up"}
}

// DeclareTopology declares the exchanges a service talks to, the dead
// letter exchange and the service's dead letter queue dlq.<service>.
func (r *RabbitMQ) DeclareTopology(service string, exchanges ...string) error {
	for _, name := range append(exchanges, DeadLetterExchange) {
		if err := r.DeclareExchange(name); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	dlq := "dlq." + service
	ch := r.Channel()
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, "#", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", dlq, err)
	}
	return nil
}

// DeclareExchange declares a durable topic exchange
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.Channel().ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// DeclareQueue declares a durable queue that dead-letters to DeadLetterExchange
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	return r.Channel().QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": DeadLetterExchange,
	})
}

// BindQueue binds a queue to an exchange with a routing key pattern
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	return r.Channel().QueueBind(queueName, routingKey, exchange, false, nil)
}
