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

// Package routing fans a classified invoice email out to the appropriate
// AP mailbox, one outbound message per invoice number.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apflow/intake/internal/mailer"
)

// ErrNoRoute indicates the intake mailbox has no configured AP destination.
var ErrNoRoute = errors.New("no AP mailbox route for recipient")

// Mailer sends a single outbound email and returns a transport message id.
type Mailer interface {
	Send(ctx context.Context, out mailer.Outbound) (string, error)
}

// Request carries everything routing needs for one source email.
type Request struct {
	OriginalSubject string
	OriginalBody    string
	SupplierID      string
	IntentCode      string
	RecipientEmail  string
	InvoiceNumbers  []string
}

// SendResult records one outbound attempt. Err is set when that send
// failed; MessageID is set when it succeeded.
type SendResult struct {
	MessageID     string
	InvoiceNumber string
	Subject       string
	Err           error
}

// Result aggregates all sends for one source email.
type Result struct {
	EmailsSent int
	Results    []SendResult
}

// Router resolves destinations and dispatches routed emails.
type Router struct {
	// routes maps the intake recipient address to the destination AP
	// mailbox. Injected at construction, never read from the environment.
	routes map[string]string
	mailer Mailer
	now    func() time.Time
}

// NewRouter creates a router over a static recipient->AP-mailbox table.
func NewRouter(routes map[string]string, m Mailer) *Router {
	return &Router{routes: routes, mailer: m, now: time.Now}
}

// FormatSubject builds the outbound subject line. The template is a
// compatibility surface: downstream AP tooling parses it back.
func FormatSubject(originalSubject, invoiceNumber, supplierID, intentCode string) string {
	invoicePart := ""
	if invoiceNumber != "" {
		invoicePart = fmt.Sprintf("Invoice# %s | ", invoiceNumber)
	}
	return fmt.Sprintf("%s >> %sVendor %s | %s <<", originalSubject, invoicePart, supplierID, intentCode)
}

// ParsedSubject is the metadata recovered from a formatted subject line.
type ParsedSubject struct {
	OriginalSubject string
	InvoiceNumber   string
	SupplierID      string
	IntentCode      string
}

// ParseSubject reverses FormatSubject. It fails on subjects that do not
// carry the delimiter tokens.
func ParseSubject(subject string) (ParsedSubject, error) {
	if !strings.HasSuffix(subject, " <<") {
		return ParsedSubject{}, fmt.Errorf("subject %q missing closing delimiter", subject)
	}
	trimmed := strings.TrimSuffix(subject, " <<")

	idx := strings.LastIndex(trimmed, " >> ")
	if idx < 0 {
		return ParsedSubject{}, fmt.Errorf("subject %q missing opening delimiter", subject)
	}

	parsed := ParsedSubject{OriginalSubject: trimmed[:idx]}
	meta := trimmed[idx+len(" >> "):]

	if rest, ok := strings.CutPrefix(meta, "Invoice# "); ok {
		invoice, after, found := strings.Cut(rest, " | ")
		if !found {
			return ParsedSubject{}, fmt.Errorf("subject %q has malformed invoice segment", subject)
		}
		parsed.InvoiceNumber = invoice
		meta = after
	}

	vendor, ok := strings.CutPrefix(meta, "Vendor ")
	if !ok {
		return ParsedSubject{}, fmt.Errorf("subject %q missing vendor segment", subject)
	}
	supplierID, intent, found := strings.Cut(vendor, " | ")
	if !found {
		return ParsedSubject{}, fmt.Errorf("subject %q missing intent segment", subject)
	}
	parsed.SupplierID = supplierID
	parsed.IntentCode = intent

	return parsed, nil
}

// Route dispatches one outbound email per invoice number, or a single
// email with an empty invoice segment when none were extracted.
//
// A missing route is fatal before any send. Individual send failures do
// not abort the fan-out: every item is attempted, each result carries its
// own error, and an aggregate error reports how many failed.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	destination, ok := r.routes[req.RecipientEmail]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, req.RecipientEmail)
	}

	invoices := req.InvoiceNumbers
	if len(invoices) == 0 {
		invoices = []string{""}
	}

	result := &Result{Results: make([]SendResult, 0, len(invoices))}
	processedAt := r.now()
	failed := 0

	for _, invoice := range invoices {
		subject := FormatSubject(req.OriginalSubject, invoice, req.SupplierID, req.IntentCode)

		messageID, err := r.mailer.Send(ctx, mailer.Outbound{
			From:    req.RecipientEmail,
			To:      destination,
			Subject: subject,
			Body:    req.OriginalBody,
			Meta: mailer.Meta{
				SupplierID:    req.SupplierID,
				IntentCode:    req.IntentCode,
				InvoiceNumber: invoice,
				ProcessedAt:   processedAt,
			},
		})

		item := SendResult{InvoiceNumber: invoice, Subject: subject}
		if err != nil {
			item.Err = err
			failed++
			slog.Error("routed email send failed",
				"invoice_number", invoice,
				"to", destination,
				"error", err,
			)
		} else {
			item.MessageID = messageID
			result.EmailsSent++
		}
		result.Results = append(result.Results, item)
	}

	if failed > 0 {
		return result, fmt.Errorf("%d of %d routed emails failed to send", failed, len(invoices))
	}
	return result, nil
}
