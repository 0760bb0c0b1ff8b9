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

// Package ops serves the operational HTTP surface: /health for dependency
// probes and /stats for queue depths.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/apflow/intake/internal/queue"
)

// Pinger checks liveness of one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatser reports queue depths.
type QueueStatser interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Handler answers health and stats requests.
type Handler struct {
	redis    Pinger
	postgres Pinger
	queues   QueueStatser
}

// NewHandler builds the ops handler over the service dependencies.
func NewHandler(redis, postgres Pinger, queues QueueStatser) *Handler {
	return &Handler{redis: redis, postgres: postgres, queues: queues}
}

type healthResponse struct {
	Status         string `json:"status"`
	DeadLetterSize int64  `json:"dead_letter_size"`
}

// ServeHealth probes Redis and Postgres. Either failing makes the service
// unhealthy. A healthy response still surfaces the dead-letter depth: a
// non-zero value is the operator signal that messages are being abandoned.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.redis.Ping(ctx); err != nil {
		http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
		return
	}
	if err := h.postgres.Ping(ctx); err != nil {
		http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
		return
	}

	resp := healthResponse{Status: "healthy"}
	if stats, err := h.queues.Stats(ctx); err == nil {
		resp.DeadLetterSize = stats.DeadLetter
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ServeStats reports the current depth of each queue list.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queues.Stats(r.Context())
	if err != nil {
		http.Error(w, "queue stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// Serve starts the ops server. The returned channel closes once the
// listener is accepting; the server shuts down when ctx is cancelled.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.ServeHealth)
	mux.HandleFunc("/stats", handler.ServeStats)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind ops port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("ops server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("ops server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("ops server error", "error", err)
		}
	}()

	return ready, nil
}
