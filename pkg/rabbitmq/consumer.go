package rabbitmq

import (
	"errors"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one delivery body. Returning false re-queues the message.
type Handler func(body []byte) bool

// Consumer reads from a durable queue bound to a topic exchange.
type Consumer struct {
	conn    *amqp091.Connection
	ch      *amqp091.Channel
	logger  logrus.FieldLogger
	done    chan struct{}
	started bool
}

// NewConsumer dials the broker and opens a channel with a prefetch of prefetch messages.
func NewConsumer(amqpURL string, prefetch int, logger logrus.FieldLogger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}

	return &Consumer{
		conn:   conn,
		ch:     ch,
		logger: logger.WithField("component", "rabbitmq_consumer"),
		done:   make(chan struct{}),
	}, nil
}

// ConsumeWithBindings declares the exchange and queue, binds each routing key
// and dispatches deliveries to their handler on a background goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return errors.New("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.started = true
	go func() {
		defer close(c.done)
		for d := range msgs {
			dispatchDelivery(c.logger, handlers, d.RoutingKey, d.Body, d)
		}
	}()
	return nil
}

// acknowledger is the part of amqp091.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func dispatchDelivery(logger logrus.FieldLogger, handlers map[string]Handler, routingKey string, body []byte, ack acknowledger) {
	log := logger.WithField("routing_key", routingKey)
	handler, ok := handlers[routingKey]
	if !ok {
		log.Warn("no handler for routing key; acknowledging to drop")
		if err := ack.Ack(false); err != nil {
			log.WithError(err).Error("ack failed")
		}
		return
	}
	if handler(body) {
		if err := ack.Ack(false); err != nil {
			log.WithError(err).Error("ack failed")
		}
		return
	}
	log.Warn("handler failed; re-queuing")
	if err := ack.Nack(false, true); err != nil {
		log.WithError(err).Error("nack failed")
	}
}

// Close stops consuming and waits for the in-flight delivery to settle.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if !c.started {
		return
	}
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}
}
