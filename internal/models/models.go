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

// Package models defines the data structures shared across the intake pipeline.
package models

// IntentCode is the classification output domain for a supplier email.
type IntentCode string

const (
	IntentInvoice    IntentCode = "INV" // supplier submitting an invoice for payment
	IntentCreditNote IntentCode = "CRN" // credit note or credit memo
	IntentPayment    IntentCode = "PAY" // payment status inquiry or remittance
	IntentDispute    IntentCode = "DIS" // dispute, discrepancy, or complaint
	IntentDuplicate  IntentCode = "DUP" // duplicate invoice submission
	IntentOther      IntentCode = "OTH" // other / unclear
)

// Valid reports whether c is one of the six supported intent codes.
func (c IntentCode) Valid() bool {
	switch c {
	case IntentInvoice, IntentCreditNote, IntentPayment, IntentDispute, IntentDuplicate, IntentOther:
		return true
	}
	return false
}

// ConfidenceLevel is the derived tier of a classification confidence score.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// LevelFor maps a 0-100 confidence score to its tier. Band lower bounds are
// inclusive: >= 90 is high, >= 70 is medium, everything else is low.
func LevelFor(confidence int) ConfidenceLevel {
	switch {
	case confidence >= 90:
		return ConfidenceHigh
	case confidence >= 70:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ManualReviewRequired reports whether a classification at the given
// confidence must be flagged for a human. Threshold matches the low band.
func ManualReviewRequired(confidence int) bool {
	return confidence < 70
}

// Email represents the parsed metadata of one inbound email object.
// It is constructed fresh per processed object and never persisted; the raw
// object remains in the object store.
type Email struct {
	EmailID        string `json:"email_id"`
	SenderEmail    string `json:"sender_email"`
	EmailDomain    string `json:"email_domain"`
	To             string `json:"to"`
	RecipientEmail string `json:"recipient_email"`
	Subject        string `json:"subject"`
	Date           string `json:"date"`
	Body           string `json:"email_body"`
}

// StructuredData is the output of document extraction over one attachment.
type StructuredData struct {
	InvoiceNumbers []string `json:"invoice_numbers"`
	PONumbers      []string `json:"po_numbers"`
	SupplierName   string   `json:"supplier_name"`
	InvoiceDate    string   `json:"invoice_date"`
	TotalAmount    string   `json:"total_amount"`
	Currency       string   `json:"currency"`
}

// Empty reports whether extraction yielded nothing for the attachment.
func (s StructuredData) Empty() bool {
	return len(s.InvoiceNumbers) == 0 && len(s.PONumbers) == 0 &&
		s.SupplierName == "" && s.InvoiceDate == "" && s.TotalAmount == ""
}

// Attachment represents one file attached to an inbound email.
type Attachment struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	ObjectKey   string         `json:"object_key"`
	ContentType string         `json:"content_type"`
	Structured  StructuredData `json:"structured_data"`
}

// ExtractionResult is the full output of the extraction handler: the parsed
// email, its attachments, and the invoice/PO identifier sets merged across
// all attachments (deduplicated, sorted for deterministic output).
type ExtractionResult struct {
	Email          Email        `json:"email_metadata"`
	Attachments    []Attachment `json:"attachments"`
	InvoiceNumbers []string     `json:"invoice_numbers"`
	PONumbers      []string     `json:"po_numbers"`
}

// Supplier is a record in the supplier directory, keyed by email domain.
type Supplier struct {
	EmailDomain     string `json:"email_domain"`
	SupplierID      string `json:"supplier_id"`
	SupplierName    string `json:"supplier_name"`
	SupplierType    string `json:"supplier_type"`
	DefaultCurrency string `json:"default_currency"`
	APRoutingCode   string `json:"ap_routing_code"`
	UnknownVendor   bool   `json:"unknown_vendor"`
}

// UnknownSupplier returns the synthesized sentinel record used when directory
// resolution finds no match. It is never persisted.
func UnknownSupplier() Supplier {
	return Supplier{
		SupplierID:    "UNKNOWN_VENDOR",
		SupplierType:  "UNKNOWN",
		APRoutingCode: "AP_MANUAL",
		UnknownVendor: true,
	}
}

// Classification is the intent-classification output for one email.
type Classification struct {
	IntentCode           IntentCode      `json:"intent_code"`
	Confidence           int             `json:"confidence"`
	ConfidenceLevel      ConfidenceLevel `json:"confidence_level"`
	Reasoning            string          `json:"reasoning"`
	ManualReviewRequired bool            `json:"manual_review_required"`
}

// ObjectCreatedEvent is the bucket/key pair carried by an object-store
// creation notification.
type ObjectCreatedEvent struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}
