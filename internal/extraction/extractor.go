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

// Package extraction parses raw inbound email objects and extracts invoice
// and purchase-order identifiers. PDF attachments go through the document
// extraction capability; when no attachment yields identifiers, regex
// fallbacks scan the plain-text body.
package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/apflow/intake/internal/llm"
	"github.com/apflow/intake/internal/models"
)

// extractInstruction is the fixed document-extraction prompt. The capability
// is instructed to answer with exactly one JSON object.
const extractInstruction = `Extract from this invoice/document:
1. Invoice number(s) (e.g. INV-458921)
2. PO number(s)
3. Supplier name
4. Invoice date
5. Total amount and currency

Return JSON only:
{
  "invoice_numbers": ["list"],
  "po_numbers": ["list"],
  "supplier_name": "name or null",
  "invoice_date": "date or null",
  "total_amount": "amount or null",
  "currency": "USD/EUR/etc or null"
}`

var (
	senderRe = regexp.MustCompile(`[\w.\-]+@[\w.\-]+`)

	// Body fallbacks, each applied only when its identifier set is still
	// empty after the attachment pass.
	invoiceFallbackRe = regexp.MustCompile(`[A-Z]{2,}-[0-9]{3,}`)
	poFallbackRe      = regexp.MustCompile(`(?:PO|P\.O\.)\s*#?\s*([0-9]{5,})`)
)

// ObjectFetcher retrieves raw objects from the object store.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// DocumentExtractor runs structured extraction over one document.
// Implemented by llm.Client.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, doc []byte, instruction string) (string, error)
}

// Extractor is the extraction handler.
type Extractor struct {
	store ObjectFetcher
	docs  DocumentExtractor
}

// NewExtractor creates an extraction handler.
func NewExtractor(store ObjectFetcher, docs DocumentExtractor) *Extractor {
	return &Extractor{store: store, docs: docs}
}

// Extract fetches the object at bucket/key, parses it as a MIME email, runs
// document extraction over every PDF attachment, and merges the identifier
// sets. Object fetch and MIME parse failures are fatal; a per-attachment
// extraction failure only empties that attachment's result.
func (e *Extractor) Extract(ctx context.Context, bucket, key string) (*models.ExtractionResult, error) {
	raw, err := e.store.Fetch(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fetch email object: %w", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse MIME message: %w", err)
	}

	email := parseEnvelope(mr.Header, key)

	invoiceSet := make(map[string]struct{})
	poSet := make(map[string]struct{})
	var attachments []models.Attachment
	var bodyText, firstInline string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken part is degraded, not fatal: whatever parsed
			// before it still flows through the pipeline.
			slog.Warn("skipping unreadable MIME part", "object_key", key, "error", err)
			break
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			content, _ := io.ReadAll(part.Body)
			ct, _, _ := header.ContentType()
			if bodyText == "" && ct == "text/plain" {
				bodyText = string(content)
			}
			if firstInline == "" {
				firstInline = string(content)
			}

		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
				continue
			}

			data, err := io.ReadAll(part.Body)
			if err != nil {
				slog.Warn("failed to read attachment body", "filename", filename, "error", err)
				continue
			}

			slog.Info("processing PDF attachment", "filename", filename, "size", len(data))

			structured := e.extractAttachment(ctx, filename, data)
			for _, inv := range structured.InvoiceNumbers {
				invoiceSet[inv] = struct{}{}
			}
			for _, po := range structured.PONumbers {
				poSet[po] = struct{}{}
			}

			attachments = append(attachments, models.Attachment{
				ID:          uuid.New().String(),
				Filename:    filename,
				ObjectKey:   key,
				ContentType: "application/pdf",
				Structured:  structured,
			})
		}
	}

	if bodyText == "" {
		bodyText = firstInline
	}
	email.Body = bodyText

	// Fallbacks run independently, each only when its set is still empty.
	if len(invoiceSet) == 0 {
		slog.Info("no invoice numbers from attachments, scanning email body", "object_key", key)
		for _, m := range invoiceFallbackRe.FindAllString(bodyText, -1) {
			invoiceSet[m] = struct{}{}
		}
	}
	if len(poSet) == 0 {
		slog.Info("no PO numbers from attachments, scanning email body", "object_key", key)
		for _, m := range poFallbackRe.FindAllStringSubmatch(bodyText, -1) {
			poSet[m[1]] = struct{}{}
		}
	}

	result := &models.ExtractionResult{
		Email:          email,
		Attachments:    attachments,
		InvoiceNumbers: sortedKeys(invoiceSet),
		PONumbers:      sortedKeys(poSet),
	}

	slog.Info("extraction complete",
		"object_key", key,
		"sender", email.SenderEmail,
		"domain", email.EmailDomain,
		"attachments", len(attachments),
		"invoice_numbers", result.InvoiceNumbers,
		"po_numbers", result.PONumbers,
	)

	return result, nil
}

// extractAttachment runs the document extraction capability over one PDF.
// Any failure — call or parse — is logged and yields an empty result for
// this attachment only.
func (e *Extractor) extractAttachment(ctx context.Context, filename string, data []byte) models.StructuredData {
	text, err := e.docs.ExtractDocument(ctx, data, extractInstruction)
	if err != nil {
		slog.Warn("document extraction failed for attachment", "filename", filename, "error", err)
		return models.StructuredData{}
	}

	var structured models.StructuredData
	if err := llm.ParseJSONObject(text, &structured); err != nil {
		slog.Warn("unparsable document extraction output", "filename", filename, "error", err)
		return models.StructuredData{}
	}

	return structured
}

// parseEnvelope builds the email metadata from the message headers.
// Malformed headers degrade to empty strings rather than failing the handler.
func parseEnvelope(header mail.Header, objectKey string) models.Email {
	senderRaw := header.Get("From")
	senderEmail := senderRe.FindString(senderRaw)

	var emailDomain string
	if at := strings.LastIndex(senderEmail, "@"); at != -1 {
		emailDomain = senderEmail[at+1:]
	}

	toRaw := header.Get("To")
	recipient := toRaw
	if i := strings.Index(toRaw, ","); i != -1 {
		recipient = toRaw[:i]
	}
	recipient = strings.TrimSpace(recipient)
	if m := senderRe.FindString(recipient); m != "" {
		recipient = m
	}

	subject, _ := header.Subject()

	return models.Email{
		EmailID:        uuid.New().String(),
		SenderEmail:    senderEmail,
		EmailDomain:    emailDomain,
		To:             toRaw,
		RecipientEmail: recipient,
		Subject:        subject,
		Date:           header.Get("Date"),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
