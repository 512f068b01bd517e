// Package nats adapts NATS JetStream to the pipeline's publisher and queue
// ports.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/gramwatch/gramwatch/internal/pipeline"
)

// Config controls the broker connection.
type Config struct {
	URL       string
	AckWait   time.Duration
	FetchWait time.Duration
}

// Conn wraps one NATS connection plus its JetStream context.
type Conn struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	logger *zap.Logger
}

// Connect dials the broker and opens a JetStream context.
func Connect(cfg Config, logger *zap.Logger) (*Conn, error) {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 5 * time.Minute
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 5 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}
	return &Conn{nc: nc, js: js, cfg: cfg, logger: logger}, nil
}

// Close drains and closes the connection.
func (c *Conn) Close() {
	if err := c.nc.Drain(); err != nil {
		c.logger.Warn("broker drain failed", zap.Error(err))
	}
}

// EnsureStream creates a file-backed stream for the given subjects. An
// already-existing stream is fine.
func (c *Conn) EnsureStream(name string, subjects ...string) error {
	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}

// Publish JSON-encodes the payload and publishes it to the subject.
func (c *Conn) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := c.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// PullQueue opens a durable pull consumer on the subject. Every instance
// sharing the durable name load-balances the same queue.
func (c *Conn) PullQueue(subject, durable string) (*PullQueue, error) {
	sub, err := c.js.PullSubscribe(subject, durable, nats.AckWait(c.cfg.AckWait))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return &PullQueue{sub: sub, fetchWait: c.cfg.FetchWait}, nil
}

// PullQueue implements pipeline.Queue over a JetStream pull subscription.
type PullQueue struct {
	sub       *nats.Subscription
	fetchWait time.Duration
}

// Next fetches one message, waiting at most the configured window. An empty
// window maps to pipeline.ErrNoMessage so callers can poll.
func (q *PullQueue) Next(ctx context.Context) (pipeline.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := q.sub.Fetch(1, nats.MaxWait(q.fetchWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, pipeline.ErrNoMessage
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	return &delivery{msg: msgs[0]}, nil
}

// Unsubscribe tears the durable's binding down.
func (q *PullQueue) Unsubscribe() error {
	return q.sub.Unsubscribe()
}

type delivery struct {
	msg *nats.Msg
}

func (d *delivery) Data() []byte { return d.msg.Data }
func (d *delivery) Ack() error   { return d.msg.Ack() }
func (d *delivery) Nak() error   { return d.msg.Nak() }
