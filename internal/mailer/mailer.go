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

// Package mailer dispatches routed invoice emails over SMTP as multipart
// (plain + HTML) messages carrying the routing metadata block.
package mailer

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"

	"github.com/apflow/intake/internal/config"
)

// Meta is the routing metadata attached to every outbound email.
type Meta struct {
	SupplierID    string
	IntentCode    string
	InvoiceNumber string
	ProcessedAt   time.Time
}

// Outbound is one email ready for dispatch.
type Outbound struct {
	From    string
	To      string
	Subject string
	Body    string // original plain-text body
	Meta    Meta
}

// SMTPMailer sends outbound emails through an SMTP submission endpoint.
type SMTPMailer struct {
	client *gomail.Client
}

// NewSMTP creates an SMTP mailer from config.
func NewSMTP(cfg config.SMTPConfig) (*SMTPMailer, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create SMTP client: %w", err)
	}

	return &SMTPMailer{client: client}, nil
}

// Send dispatches one outbound email and returns its message id.
// No retry at this layer: a failed send surfaces to the caller, and the
// queue contract owns escalation.
func (m *SMTPMailer) Send(ctx context.Context, out Outbound) (string, error) {
	msg := gomail.NewMsg()
	if err := msg.From(out.From); err != nil {
		return "", fmt.Errorf("invalid from address %q: %w", out.From, err)
	}
	if err := msg.To(out.To); err != nil {
		return "", fmt.Errorf("invalid to address %q: %w", out.To, err)
	}

	messageID := uuid.New().String()
	msg.SetMessageIDWithValue(messageID)
	msg.Subject(out.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, RenderText(out))
	msg.AddAlternativeString(gomail.TypeTextHTML, RenderHTML(out))

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("send email to %s: %w", out.To, err)
	}

	slog.Info("outbound email sent",
		"message_id", messageID,
		"to", out.To,
		"invoice_number", out.Meta.InvoiceNumber,
	)

	return messageID, nil
}

// RenderText produces the plain-text part: the original body plus the
// processing trailer.
func RenderText(out Outbound) string {
	invoice := out.Meta.InvoiceNumber
	if invoice == "" {
		invoice = "N/A"
	}

	return fmt.Sprintf(`%s

---
Processed by AP Invoice Routing System
Supplier ID: %s
Invoice Number: %s
Intent Code: %s
Processing Timestamp: %s
`,
		out.Body,
		out.Meta.SupplierID,
		invoice,
		out.Meta.IntentCode,
		out.Meta.ProcessedAt.UTC().Format(time.RFC3339),
	)
}

// htmlTemplate renders the original body followed by a visually distinct
// metadata block. The exact markup is not a compatibility surface; the
// metadata fields are.
var htmlTemplate = template.Must(template.New("outbound").Parse(`<html>
<head>
  <style>
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; line-height: 1.6; color: #333; background: #f5f5f5; }
    .email-content { background: #ffffff; padding: 20px; margin-bottom: 20px; }
    .metadata-section { background: #2c3e50; color: #ffffff; padding: 25px; border-radius: 8px; margin-top: 20px; }
    .metadata-title { font-size: 18px; font-weight: bold; margin-bottom: 15px; border-bottom: 2px solid #3498db; padding-bottom: 10px; }
    .metadata-item { background: #34495e; padding: 12px; border-radius: 6px; border-left: 4px solid #f39c12; margin-top: 10px; }
    .metadata-label { font-size: 11px; text-transform: uppercase; letter-spacing: 1px; color: #ecf0f1; }
    .metadata-value { font-size: 16px; font-weight: bold; }
  </style>
</head>
<body>
  <div class="email-content"><p>{{.BodyHTML}}</p></div>
  <div class="metadata-section">
    <div class="metadata-title">AP Invoice Metadata</div>
    <div class="metadata-item">
      <div class="metadata-label">Supplier ID</div>
      <div class="metadata-value">{{.SupplierID}}</div>
    </div>
    <div class="metadata-item">
      <div class="metadata-label">Intent Code</div>
      <div class="metadata-value">{{.IntentCode}}</div>
    </div>
    <div class="metadata-item">
      <div class="metadata-label">Invoice Number</div>
      <div class="metadata-value">{{.InvoiceNumber}}</div>
    </div>
    <div class="metadata-item">
      <div class="metadata-label">Processing Time</div>
      <div class="metadata-value">{{.ProcessedAt}}</div>
    </div>
  </div>
</body>
</html>`))

// RenderHTML produces the HTML alternative part.
func RenderHTML(out Outbound) string {
	invoice := out.Meta.InvoiceNumber
	if invoice == "" {
		invoice = "N/A"
	}

	data := struct {
		BodyHTML      template.HTML
		SupplierID    string
		IntentCode    string
		InvoiceNumber string
		ProcessedAt   string
	}{
		BodyHTML:      template.HTML(strings.ReplaceAll(template.HTMLEscapeString(out.Body), "\n", "<br>")),
		SupplierID:    out.Meta.SupplierID,
		IntentCode:    out.Meta.IntentCode,
		InvoiceNumber: invoice,
		ProcessedAt:   out.Meta.ProcessedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	}

	var sb strings.Builder
	if err := htmlTemplate.Execute(&sb, data); err != nil {
		return "<pre>" + template.HTMLEscapeString(RenderText(out)) + "</pre>"
	}
	return sb.String()
}
