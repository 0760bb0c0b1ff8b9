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

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper periodically recovers stale in-flight messages. It exists because a
// Redis list, unlike a managed queue, has no built-in visibility timeout: if
// a worker dies mid-message, the envelope would otherwise sit in the
// processing list forever.
type Reaper struct {
	consumer *Consumer
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper over the given consumer. The sweep interval is
// derived from the visibility timeout (half of it, floor 30s).
func NewReaper(consumer *Consumer) *Reaper {
	interval := consumer.cfg.VisibilityTimeout / 2
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	return &Reaper{consumer: consumer, interval: interval}
}

// Start runs one immediate sweep (crash recovery on startup) and then sweeps
// on the interval until the context is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	if n, err := r.consumer.RecoverStale(ctx); err != nil {
		slog.Error("startup stale-message sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("startup stale-message sweep complete", "recovered", n)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.consumer.RecoverStale(ctx)
				if err != nil {
					slog.Error("stale-message sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("stale-message sweep complete", "recovered", n)
				}
			}
		}
	}()

	slog.Info("queue reaper started", "interval", r.interval)
}

// Stop cancels the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
