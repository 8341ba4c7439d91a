package queue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQP is a RabbitMQ backed queue publishing to a durable queue through the
// default exchange.
type AMQP struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string
}

// NewAMQP dials the broker and declares the queue.
func NewAMQP(url, name string) (*AMQP, error) {
	if name == "" {
		name = "presence:tasks"
	}
	logrus.WithField("queue", name).Info("connecting to RabbitMQ")
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare queue")
	}
	return &AMQP{conn: conn, channel: ch, name: name}, nil
}

// Publish sends a persistent JSON message.
func (q *AMQP) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	err = q.channel.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         msg.Type,
		Timestamp:    msg.EnqueuedAt,
		Body:         body,
	})
	return errors.Wrap(err, "publish")
}

// Consume acknowledges each delivery once it has been handed to the reader.
func (q *AMQP) Consume(ctx context.Context) (<-chan Message, error) {
	deliveries, err := q.channel.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "consume")
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logrus.WithField("queue", q.name).Warn("delivery channel closed")
					return
				}
				var msg Message
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					logrus.WithError(err).WithField("queue", q.name).Warn("rejecting undecodable message")
					_ = d.Reject(false)
					continue
				}
				select {
				case out <- msg:
					_ = d.Ack(false)
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the channel and then the connection.
func (q *AMQP) Close() error {
	if err := q.channel.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close RabbitMQ channel")
	}
	return errors.Wrap(q.conn.Close(), "close rabbitmq connection")
}
