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

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/apflow/intake/internal/models"
	"github.com/apflow/intake/internal/queue"
	"github.com/apflow/intake/internal/routing"
	"github.com/apflow/intake/internal/session"
)

type fakeExtractor struct {
	result *models.ExtractionResult
	err    error
	calls  []string
}

func (f *fakeExtractor) Extract(_ context.Context, bucket, key string) (*models.ExtractionResult, error) {
	f.calls = append(f.calls, bucket+"/"+key)
	return f.result, f.err
}

type fakeResolver struct {
	supplier *models.Supplier
	err      error
	domain   string
	name     string
}

func (f *fakeResolver) Resolve(_ context.Context, emailDomain, supplierName string) (*models.Supplier, error) {
	f.domain = emailDomain
	f.name = supplierName
	return f.supplier, f.err
}

type fakeClassifier struct {
	result *models.Classification
	err    error
}

func (f *fakeClassifier) Classify(_ context.Context, _, _ string, _ *models.StructuredData) (*models.Classification, error) {
	return f.result, f.err
}

type fakeRouter struct {
	result   *routing.Result
	err      error
	requests []routing.Request
}

func (f *fakeRouter) Route(_ context.Context, req routing.Request) (*routing.Result, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type fakeSessions struct {
	keys []string
}

func (f *fakeSessions) Begin(_ context.Context, objectKey string) (session.Info, error) {
	f.keys = append(f.keys, objectKey)
	return session.Info{ID: session.KeyForObject(objectKey)}, nil
}

func s3Notification(t *testing.T, bucket, key string) []byte {
	t.Helper()
	payload := map[string]any{
		"Records": []map[string]any{
			{"s3": map[string]any{
				"bucket": map[string]any{"name": bucket},
				"object": map[string]any{"key": key},
			}},
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func happyPathFixture() (*fakeExtractor, *fakeResolver, *fakeClassifier, *fakeRouter, *fakeSessions) {
	ext := &fakeExtractor{result: &models.ExtractionResult{
		Email: models.Email{
			EmailID:        "e-1",
			SenderEmail:    "ap@acme.com",
			EmailDomain:    "acme.com",
			RecipientEmail: "ap-intake@apflow.example",
			Subject:        "Invoice attached",
			Body:           "See attached.",
		},
		Attachments: []models.Attachment{{
			Filename:   "invoice.pdf",
			Structured: models.StructuredData{InvoiceNumbers: []string{"INV-500"}, SupplierName: "Acme Corp"},
		}},
		InvoiceNumbers: []string{"INV-500"},
	}}
	res := &fakeResolver{supplier: &models.Supplier{
		EmailDomain:   "acme.com",
		SupplierID:    "S100",
		APRoutingCode: "ROUTE_A",
	}}
	cls := &fakeClassifier{result: &models.Classification{
		IntentCode:      models.IntentInvoice,
		Confidence:      95,
		ConfidenceLevel: models.ConfidenceHigh,
	}}
	rt := &fakeRouter{result: &routing.Result{
		EmailsSent: 1,
		Results: []routing.SendResult{{
			MessageID:     "msg-1",
			InvoiceNumber: "INV-500",
			Subject:       routing.FormatSubject("Invoice attached", "INV-500", "S100", "INV"),
		}},
	}}
	return ext, res, cls, rt, &fakeSessions{}
}

func TestHandleEndToEnd(t *testing.T) {
	ext, res, cls, rt, sess := happyPathFixture()
	o := New(nil, ext, res, cls, rt, sess)

	msg := &queue.Message{ID: "m-1", Body: s3Notification(t, "intake-bucket", "incoming/msg1.eml")}
	if err := o.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(ext.calls) != 1 || ext.calls[0] != "intake-bucket/incoming/msg1.eml" {
		t.Errorf("extractor calls = %v", ext.calls)
	}
	if res.domain != "acme.com" {
		t.Errorf("resolved domain = %q", res.domain)
	}
	if res.name != "Acme Corp" {
		t.Errorf("resolver supplier name = %q", res.name)
	}
	if len(sess.keys) != 1 || sess.keys[0] != "incoming/msg1.eml" {
		t.Errorf("session keys = %v", sess.keys)
	}

	if len(rt.requests) != 1 {
		t.Fatalf("router requests = %d, want 1", len(rt.requests))
	}
	req := rt.requests[0]
	if req.SupplierID != "S100" || req.IntentCode != "INV" {
		t.Errorf("routing request = %+v", req)
	}
	if len(req.InvoiceNumbers) != 1 || req.InvoiceNumbers[0] != "INV-500" {
		t.Errorf("invoice numbers = %v", req.InvoiceNumbers)
	}
	if !strings.HasSuffix(rt.result.Results[0].Subject, "Invoice# INV-500 | Vendor S100 | INV <<") {
		t.Errorf("formatted subject = %q", rt.result.Results[0].Subject)
	}
}

func TestHandleURLEncodedKey(t *testing.T) {
	ext, res, cls, rt, sess := happyPathFixture()
	o := New(nil, ext, res, cls, rt, sess)

	msg := &queue.Message{ID: "m-2", Body: s3Notification(t, "intake-bucket", "incoming/march+invoices%2Bfinal.eml")}
	if err := o.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// QueryUnescape turns '+' into a space and decodes %2B.
	want := "intake-bucket/incoming/march invoices+final.eml"
	if ext.calls[0] != want {
		t.Errorf("extractor called with %q, want %q", ext.calls[0], want)
	}
}

func TestHandleStageFailures(t *testing.T) {
	tests := []struct {
		name  string
		mutate func(*fakeExtractor, *fakeResolver, *fakeClassifier, *fakeRouter)
	}{
		{"extraction fails", func(e *fakeExtractor, _ *fakeResolver, _ *fakeClassifier, _ *fakeRouter) {
			e.result, e.err = nil, errors.New("object missing")
		}},
		{"resolution fails", func(_ *fakeExtractor, r *fakeResolver, _ *fakeClassifier, _ *fakeRouter) {
			r.supplier, r.err = nil, errors.New("directory down")
		}},
		{"classification fails", func(_ *fakeExtractor, _ *fakeResolver, c *fakeClassifier, _ *fakeRouter) {
			c.result, c.err = nil, errors.New("unparsable response")
		}},
		{"routing fails", func(_ *fakeExtractor, _ *fakeResolver, _ *fakeClassifier, rt *fakeRouter) {
			rt.result, rt.err = nil, routing.ErrNoRoute
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, res, cls, rt, sess := happyPathFixture()
			tt.mutate(ext, res, cls, rt)
			o := New(nil, ext, res, cls, rt, sess)

			msg := &queue.Message{ID: "m-3", Body: s3Notification(t, "b", "incoming/x.eml")}
			if err := o.handle(context.Background(), msg); err == nil {
				t.Fatal("handle should propagate the stage failure")
			}
		})
	}
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		want    []models.ObjectCreatedEvent
	}{
		{
			name: "single record",
			body: `{"Records":[{"s3":{"bucket":{"name":"b"},"object":{"key":"incoming/a.eml"}}}]}`,
			want: []models.ObjectCreatedEvent{{Bucket: "b", Key: "incoming/a.eml"}},
		},
		{
			name: "multiple records",
			body: `{"Records":[{"s3":{"bucket":{"name":"b"},"object":{"key":"one.eml"}}},{"s3":{"bucket":{"name":"b"},"object":{"key":"two.eml"}}}]}`,
			want: []models.ObjectCreatedEvent{{Bucket: "b", Key: "one.eml"}, {Bucket: "b", Key: "two.eml"}},
		},
		{name: "not json", body: `hello`, wantErr: true},
		{name: "no records", body: `{"Records":[]}`, wantErr: true},
		{name: "missing key", body: `{"Records":[{"s3":{"bucket":{"name":"b"},"object":{"key":""}}}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeNotification([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeNotification: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStageString(t *testing.T) {
	stages := map[Stage]string{
		StageReceived:    "RECEIVED",
		StageExtracting:  "EXTRACTING",
		StageResolving:   "RESOLVING",
		StageClassifying: "CLASSIFYING",
		StageRouted:      "ROUTED",
		StageFailed:      "FAILED",
		Stage(99):        "UNKNOWN",
	}
	for stage, want := range stages {
		if got := stage.String(); got != want {
			t.Errorf("Stage(%d).String() = %q, want %q", stage, got, want)
		}
	}
}
