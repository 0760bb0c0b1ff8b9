// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue implements the durable intake queue on Redis lists.
//
// Messages are LPUSHed to the intake list and consumed with BLMOVE into a
// processing list, so an envelope is never in limbo: it is either waiting,
// in flight, or dead-lettered. A consumer acks by removing the envelope from
// the processing list; a nack either requeues it or, once the redelivery
// ceiling is reached, diverts it to the dead-letter list. A reaper returns
// in-flight envelopes that outlived the visibility timeout (crashed worker)
// to the intake list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/apflow/intake/internal/config"
)

// receiveBlock is how long one Receive call blocks waiting for a message
// before returning empty, so the consumer loop can observe cancellation.
const receiveBlock = 5 * time.Second

// Message is the envelope wrapped around one notification body.
type Message struct {
	ID              string          `json:"id"`
	Body            json.RawMessage `json:"body"`
	ReceiveCount    int             `json:"receive_count"`
	EnqueuedAt      time.Time       `json:"enqueued_at"`
	LastDeliveredAt time.Time       `json:"last_delivered_at,omitempty"`

	// raw is the encoded form currently sitting in the processing list,
	// needed for LREM on ack/nack.
	raw string
}

// Stats reports the depth of each queue list.
type Stats struct {
	Intake     int64 `json:"intake"`
	Processing int64 `json:"processing"`
	DeadLetter int64 `json:"dead_letter"`
}

// Publisher enqueues notification bodies to the intake list.
type Publisher struct {
	rdb    *redis.Client
	intake string
}

// NewPublisher creates a publisher targeting the given intake list.
func NewPublisher(rdb *redis.Client, intake string) *Publisher {
	return &Publisher{rdb: rdb, intake: intake}
}

// Publish wraps body in a fresh envelope and pushes it to the intake list.
// Returns the message ID.
func (p *Publisher) Publish(ctx context.Context, body []byte) (string, error) {
	msg := Message{
		ID:           uuid.New().String(),
		Body:         json.RawMessage(body),
		ReceiveCount: 0,
		EnqueuedAt:   time.Now().UTC(),
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.intake, string(raw)).Err(); err != nil {
		return "", fmt.Errorf("redis LPUSH: %w", err)
	}

	return msg.ID, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}

// Consumer receives messages one at a time and settles them.
type Consumer struct {
	rdb *redis.Client
	cfg config.QueueConfig
	now func() time.Time
}

// NewConsumer creates a consumer over the configured queue lists.
func NewConsumer(rdb *redis.Client, cfg config.QueueConfig) *Consumer {
	return &Consumer{rdb: rdb, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Receive blocks for up to a few seconds waiting for a message. It returns
// (nil, nil) when the wait times out with the queue empty, so callers can
// check cancellation and loop.
//
// The envelope is atomically moved to the processing list, then rewritten
// there with an incremented receive count and fresh delivery timestamp.
func (c *Consumer) Receive(ctx context.Context) (*Message, error) {
	raw, err := c.rdb.BLMove(ctx, c.cfg.Intake, c.cfg.Processing, "RIGHT", "LEFT", receiveBlock).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BLMOVE: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// Poison envelope: undecodable payloads can never succeed, so
		// divert straight to the dead-letter list.
		slog.Error("undecodable queue envelope, dead-lettering", "error", err)
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, c.cfg.Processing, 1, raw)
		pipe.LPush(ctx, c.cfg.DeadLetter, raw)
		if _, perr := pipe.Exec(ctx); perr != nil {
			return nil, fmt.Errorf("dead-letter poison envelope: %w", perr)
		}
		return nil, nil
	}

	msg.ReceiveCount++
	msg.LastDeliveredAt = c.now()

	updated, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, c.cfg.Processing, 1, raw)
	pipe.LPush(ctx, c.cfg.Processing, string(updated))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("update in-flight envelope: %w", err)
	}

	msg.raw = string(updated)
	return &msg, nil
}

// Ack removes a successfully processed message from the processing list.
func (c *Consumer) Ack(ctx context.Context, msg *Message) error {
	if err := c.rdb.LRem(ctx, c.cfg.Processing, 1, msg.raw).Err(); err != nil {
		return fmt.Errorf("ack LREM: %w", err)
	}
	return nil
}

// Nack settles a failed message: back to the intake list for redelivery, or
// to the dead-letter list once the redelivery ceiling is reached. A non-empty
// dead-letter list is the operator alarm surface, so dead-lettering logs at
// Error level.
func (c *Consumer) Nack(ctx context.Context, msg *Message) error {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, c.cfg.Processing, 1, msg.raw)

	if exhausted(msg.ReceiveCount, c.cfg.MaxReceives) {
		pipe.LPush(ctx, c.cfg.DeadLetter, msg.raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("dead-letter message: %w", err)
		}
		slog.Error("message exhausted redelivery ceiling, dead-lettered",
			"message_id", msg.ID,
			"receive_count", msg.ReceiveCount,
			"max_receives", c.cfg.MaxReceives,
		)
		return nil
	}

	pipe.LPush(ctx, c.cfg.Intake, msg.raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue message: %w", err)
	}

	slog.Warn("message requeued for redelivery",
		"message_id", msg.ID,
		"receive_count", msg.ReceiveCount,
	)
	return nil
}

// RecoverStale returns envelopes that have sat in the processing list past
// the visibility timeout to the intake list. Returns the number recovered.
func (c *Consumer) RecoverStale(ctx context.Context) (int, error) {
	raws, err := c.rdb.LRange(ctx, c.cfg.Processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LRANGE: %w", err)
	}

	recovered := 0
	for _, raw := range raws {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		if !stale(msg, c.now(), c.cfg.VisibilityTimeout) {
			continue
		}

		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, c.cfg.Processing, 1, raw)
		pipe.LPush(ctx, c.cfg.Intake, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, fmt.Errorf("recover stale message %s: %w", msg.ID, err)
		}

		slog.Warn("recovered stale in-flight message",
			"message_id", msg.ID,
			"receive_count", msg.ReceiveCount,
			"last_delivered_at", msg.LastDeliveredAt,
		)
		recovered++
	}

	return recovered, nil
}

// Stats returns the current queue depths.
func (c *Consumer) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error

	if s.Intake, err = c.rdb.LLen(ctx, c.cfg.Intake).Result(); err != nil {
		return s, fmt.Errorf("redis LLEN %s: %w", c.cfg.Intake, err)
	}
	if s.Processing, err = c.rdb.LLen(ctx, c.cfg.Processing).Result(); err != nil {
		return s, fmt.Errorf("redis LLEN %s: %w", c.cfg.Processing, err)
	}
	if s.DeadLetter, err = c.rdb.LLen(ctx, c.cfg.DeadLetter).Result(); err != nil {
		return s, fmt.Errorf("redis LLEN %s: %w", c.cfg.DeadLetter, err)
	}

	return s, nil
}

// exhausted reports whether a message at the given receive count has used up
// its redelivery budget.
func exhausted(receiveCount, maxReceives int) bool {
	return receiveCount >= maxReceives
}

// stale reports whether an in-flight envelope has outlived the visibility
// timeout. Envelopes without a delivery timestamp fall back to enqueue time.
func stale(msg Message, now time.Time, visibility time.Duration) bool {
	ref := msg.LastDeliveredAt
	if ref.IsZero() {
		ref = msg.EnqueuedAt
	}
	if ref.IsZero() {
		return false
	}
	return now.Sub(ref) > visibility
}
