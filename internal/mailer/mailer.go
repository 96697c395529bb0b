// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

// Package mailer delivers verification codes to account holders.
package mailer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
)

// MessageTypeVerificationCode identifies verification code messages on the queue.
const MessageTypeVerificationCode = "verification_code"

// Message is the JSON body published for a verification code.
type Message struct {
	Type   string    `json:"type"`
	Email  string    `json:"email"`
	Code   string    `json:"code"`
	SentAt time.Time `json:"sent_at"`
}

// channel is the subset of *amqp.Channel used by AMQPMailer.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPMailer publishes verification codes to a durable RabbitMQ queue for a
// separate sender process.
type AMQPMailer struct {
	conn  *amqp.Connection
	ch    channel
	queue string
	now   func() time.Time
}

// DialAMQP connects to the broker and declares the durable queue.
func DialAMQP(url, queue string) (*AMQPMailer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, oops.Code("MAILER_CONNECT_FAILED").With("queue", queue).Wrap(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, oops.Code("MAILER_CONNECT_FAILED").With("queue", queue).Wrap(err)
	}

	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, oops.Code("MAILER_QUEUE_DECLARE_FAILED").With("queue", queue).Wrap(err)
	}

	m := newAMQPMailer(ch, q.Name, time.Now)
	m.conn = conn
	return m, nil
}

func newAMQPMailer(ch channel, queue string, now func() time.Time) *AMQPMailer {
	return &AMQPMailer{ch: ch, queue: queue, now: now}
}

// SendVerificationCode publishes a persistent message carrying the code.
func (m *AMQPMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	sentAt := m.now().UTC()
	body, err := json.Marshal(Message{
		Type:   MessageTypeVerificationCode,
		Email:  email,
		Code:   code,
		SentAt: sentAt,
	})
	if err != nil {
		return oops.Code("MAILER_ENCODE_FAILED").Wrap(err)
	}

	err = m.ch.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    sentAt,
	})
	if err != nil {
		return oops.Code("MAILER_PUBLISH_FAILED").With("queue", m.queue).Wrap(err)
	}
	return nil
}

// Close releases the channel and the connection.
func (m *AMQPMailer) Close() error {
	err := m.ch.Close()
	if m.conn != nil {
		if connErr := m.conn.Close(); err == nil {
			err = connErr
		}
	}
	if err != nil {
		return oops.Code("MAILER_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// LogMailer records that a code was issued without delivering it. The code
// itself is never logged.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendVerificationCode logs the recipient.
func (m *LogMailer) SendVerificationCode(ctx context.Context, email, _ string) error {
	m.logger.InfoContext(ctx, "verification code issued", "email", email)
	return nil
}
