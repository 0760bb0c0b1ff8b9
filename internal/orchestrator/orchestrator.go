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

// Package orchestrator drives the intake pipeline: it consumes object-store
// notifications from the queue and runs each email through extraction,
// supplier resolution, intent classification, and routing.
//
// The pipeline runs single-threaded on purpose: supplier resolution and
// routing assume at most one email in flight, and the inbound volume is
// low enough that ordering beats throughput.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/apflow/intake/internal/models"
	"github.com/apflow/intake/internal/queue"
	"github.com/apflow/intake/internal/routing"
	"github.com/apflow/intake/internal/session"
)

// Stage names the pipeline step an email is in, for logging and failure
// attribution.
type Stage int

const (
	StageReceived Stage = iota
	StageExtracting
	StageResolving
	StageClassifying
	StageRouted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "RECEIVED"
	case StageExtracting:
		return "EXTRACTING"
	case StageResolving:
		return "RESOLVING"
	case StageClassifying:
		return "CLASSIFYING"
	case StageRouted:
		return "ROUTED"
	case StageFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Queue is the message source the orchestrator drains.
type Queue interface {
	Receive(ctx context.Context) (*queue.Message, error)
	Ack(ctx context.Context, msg *queue.Message) error
	Nack(ctx context.Context, msg *queue.Message) error
}

// Extractor parses one stored email object into structured output.
type Extractor interface {
	Extract(ctx context.Context, bucket, key string) (*models.ExtractionResult, error)
}

// Resolver maps an email domain (and optional extracted supplier name) to a
// supplier record.
type Resolver interface {
	Resolve(ctx context.Context, emailDomain, supplierName string) (*models.Supplier, error)
}

// Classifier assigns an intent code to one email.
type Classifier interface {
	Classify(ctx context.Context, subject, body string, structured *models.StructuredData) (*models.Classification, error)
}

// Router fans the classified email out to the AP mailbox.
type Router interface {
	Route(ctx context.Context, req routing.Request) (*routing.Result, error)
}

// Sessions tracks per-object workflow sessions.
type Sessions interface {
	Begin(ctx context.Context, objectKey string) (session.Info, error)
}

// notification is the object-store event shape delivered through the queue.
// The key arrives URL-encoded, matching what S3-compatible stores emit.
type notification struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// Orchestrator wires the pipeline stages to the queue.
type Orchestrator struct {
	queue      Queue
	extractor  Extractor
	resolver   Resolver
	classifier Classifier
	router     Router
	sessions   Sessions
}

// New assembles an orchestrator from its stage handlers.
func New(q Queue, e Extractor, r Resolver, c Classifier, rt Router, s Sessions) *Orchestrator {
	return &Orchestrator{
		queue:      q,
		extractor:  e,
		resolver:   r,
		classifier: c,
		router:     rt,
		sessions:   s,
	}
}

// Run consumes the queue until ctx is cancelled. One message at a time:
// success acks, any failure nacks and lets the queue contract decide between
// redelivery and the dead-letter list.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("orchestrator started")

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("orchestrator stopped")
			return err
		}

		msg, err := o.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("orchestrator stopped")
				return ctx.Err()
			}
			slog.Error("queue receive failed", "error", err)
			continue
		}
		if msg == nil {
			continue
		}

		if err := o.handle(ctx, msg); err != nil {
			if nerr := o.queue.Nack(ctx, msg); nerr != nil {
				slog.Error("nack failed", "message_id", msg.ID, "error", nerr)
			}
			continue
		}

		if err := o.queue.Ack(ctx, msg); err != nil {
			slog.Error("ack failed", "message_id", msg.ID, "error", err)
		}
	}
}

// handle processes one queue message end to end.
func (o *Orchestrator) handle(ctx context.Context, msg *queue.Message) error {
	started := time.Now()

	events, err := decodeNotification(msg.Body)
	if err != nil {
		slog.Error("undecodable notification", "message_id", msg.ID, "error", err)
		return err
	}

	for _, event := range events {
		if err := o.processObject(ctx, event); err != nil {
			slog.Error("pipeline failed",
				"message_id", msg.ID,
				"bucket", event.Bucket,
				"object_key", event.Key,
				"error", err,
			)
			return err
		}
	}

	slog.Info("message processed",
		"message_id", msg.ID,
		"events", len(events),
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)
	return nil
}

// processObject runs the four pipeline stages for one stored email object.
func (o *Orchestrator) processObject(ctx context.Context, event models.ObjectCreatedEvent) error {
	info, err := o.sessions.Begin(ctx, event.Key)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}

	log := slog.With("session_id", info.ID, "bucket", event.Bucket, "object_key", event.Key)
	log.Info("processing email object", "stage", StageReceived.String(), "resumed", info.Resumed)

	log.Info("pipeline stage", "stage", StageExtracting.String())
	extracted, err := o.extractor.Extract(ctx, event.Bucket, event.Key)
	if err != nil {
		log.Error("pipeline stage failed", "stage", StageFailed.String(), "failed_stage", StageExtracting.String())
		return fmt.Errorf("extract %s: %w", event.Key, err)
	}

	log.Info("pipeline stage", "stage", StageResolving.String(), "email_domain", extracted.Email.EmailDomain)
	supplier, err := o.resolver.Resolve(ctx, extracted.Email.EmailDomain, extractedSupplierName(extracted))
	if err != nil {
		log.Error("pipeline stage failed", "stage", StageFailed.String(), "failed_stage", StageResolving.String())
		return fmt.Errorf("resolve supplier for %s: %w", extracted.Email.EmailDomain, err)
	}

	log.Info("pipeline stage", "stage", StageClassifying.String())
	classification, err := o.classifier.Classify(ctx, extracted.Email.Subject, extracted.Email.Body, firstStructured(extracted))
	if err != nil {
		log.Error("pipeline stage failed", "stage", StageFailed.String(), "failed_stage", StageClassifying.String())
		return fmt.Errorf("classify email: %w", err)
	}

	result, err := o.router.Route(ctx, routing.Request{
		OriginalSubject: extracted.Email.Subject,
		OriginalBody:    extracted.Email.Body,
		SupplierID:      supplier.SupplierID,
		IntentCode:      string(classification.IntentCode),
		RecipientEmail:  extracted.Email.RecipientEmail,
		InvoiceNumbers:  extracted.InvoiceNumbers,
	})
	if err != nil {
		log.Error("pipeline stage failed", "stage", StageFailed.String(), "failed_stage", StageRouted.String())
		return fmt.Errorf("route email: %w", err)
	}

	log.Info("email routed",
		"stage", StageRouted.String(),
		"supplier_id", supplier.SupplierID,
		"unknown_vendor", supplier.UnknownVendor,
		"intent_code", classification.IntentCode,
		"confidence", classification.Confidence,
		"confidence_level", classification.ConfidenceLevel,
		"manual_review_required", classification.ManualReviewRequired,
		"invoice_numbers", extracted.InvoiceNumbers,
		"emails_sent", result.EmailsSent,
	)
	return nil
}

// decodeNotification parses the S3-style event payload and unescapes the
// object keys.
func decodeNotification(body []byte) ([]models.ObjectCreatedEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if len(n.Records) == 0 {
		return nil, fmt.Errorf("notification carries no records")
	}

	events := make([]models.ObjectCreatedEvent, 0, len(n.Records))
	for _, rec := range n.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("unescape object key %q: %w", rec.S3.Object.Key, err)
		}
		if rec.S3.Bucket.Name == "" || key == "" {
			return nil, fmt.Errorf("notification record missing bucket or key")
		}
		events = append(events, models.ObjectCreatedEvent{Bucket: rec.S3.Bucket.Name, Key: key})
	}
	return events, nil
}

// extractedSupplierName returns the first supplier name any attachment
// yielded, for the name-scan fallback during resolution.
func extractedSupplierName(res *models.ExtractionResult) string {
	for _, att := range res.Attachments {
		if att.Structured.SupplierName != "" {
			return att.Structured.SupplierName
		}
	}
	return ""
}

// firstStructured returns the first non-empty attachment extraction, which
// gives classification its invoice date and amount context.
func firstStructured(res *models.ExtractionResult) *models.StructuredData {
	for _, att := range res.Attachments {
		if !att.Structured.Empty() {
			s := att.Structured
			return &s
		}
	}
	return nil
}
