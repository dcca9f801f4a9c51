// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package email delivers outbound notifications. Delivery is always
// fire-and-forget from the auth flows: failures are logged, never
// surfaced, and no caller-visible response path waits on a send.
package email

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/tollgate/tollgate/pkg/errutil"
)

// sendTimeout bounds one delivery attempt inside the worker.
const sendTimeout = 30 * time.Second

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a single message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Disabled is a Sender used when no provider is configured. Sends are
// dropped with a debug log so local development works without keys.
type Disabled struct {
	logger *slog.Logger
}

// NewDisabled creates a Disabled sender.
func NewDisabled(logger *slog.Logger) *Disabled {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Disabled{logger: logger}
}

// Send drops the message.
func (d *Disabled) Send(_ context.Context, msg Message) error {
	d.logger.Debug("email disabled, dropping message", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Mailer queues messages onto a background worker. Enqueue never blocks
// the caller beyond a full queue check and never returns delivery errors;
// the worker logs them to its sink.
type Mailer struct {
	sender Sender
	logger *slog.Logger
	queue  chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewMailer creates a Mailer draining into sender and starts its worker.
// Returns an error if sender is nil.
func NewMailer(sender Sender, logger *slog.Logger) (*Mailer, error) {
	if sender == nil {
		return nil, oops.Errorf("sender is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Mailer{
		sender: sender,
		logger: logger,
		queue:  make(chan Message, 64),
		done:   make(chan struct{}),
	}
	go m.run()
	return m, nil
}

// Enqueue submits a message for background delivery. A full queue drops
// the message with a log entry rather than blocking the request path.
func (m *Mailer) Enqueue(msg Message) {
	select {
	case m.queue <- msg:
	default:
		m.logger.Warn("email queue full, dropping message", "to", msg.To, "subject", msg.Subject)
	}
}

// Close stops the worker after draining queued messages.
func (m *Mailer) Close() {
	m.closeOnce.Do(func() {
		close(m.queue)
		<-m.done
	})
}

func (m *Mailer) run() {
	defer close(m.done)
	for msg := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := m.sender.Send(ctx, msg); err != nil {
			errutil.LogError(m.logger, "email delivery failed", err)
		} else {
			m.logger.Info("email sent", "to", msg.To, "subject", msg.Subject)
		}
		cancel()
	}
}
