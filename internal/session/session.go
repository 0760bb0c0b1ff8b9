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

// Package session derives workflow session identifiers from object keys and
// tracks them in Redis. Reprocessing the same object (queue redelivery)
// reuses the same session id, which is a continuity signal for the workflow
// — not a strict idempotency guarantee.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "intake:session:"

// KeyForObject derives the deterministic session id for an object key.
// The same object always maps to the same session.
func KeyForObject(objectKey string) string {
	return "session-" + strings.ReplaceAll(objectKey, "/", "-")
}

// Info describes a begun session.
type Info struct {
	ID      string
	Resumed bool // true when this object key was processed before
}

// Tracker records active sessions in Redis with a TTL.
type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTracker creates a session tracker backed by Redis.
func NewTracker(rdb *redis.Client, ttl time.Duration) *Tracker {
	return &Tracker{rdb: rdb, ttl: ttl}
}

// Begin marks the session for objectKey as active and reports whether this
// object was already seen within the TTL window. The mark is atomic (SETNX),
// so concurrent observers agree on who saw it first.
func (t *Tracker) Begin(ctx context.Context, objectKey string) (Info, error) {
	id := KeyForObject(objectKey)

	set, err := t.rdb.SetNX(ctx, keyPrefix+id, 1, t.ttl).Result()
	if err != nil {
		return Info{}, fmt.Errorf("session SETNX: %w", err)
	}

	return Info{ID: id, Resumed: !set}, nil
}
