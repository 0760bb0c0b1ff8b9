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

// Package classification assigns one of six fixed intent codes to a supplier
// email using the text-generation capability.
package classification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apflow/intake/internal/llm"
	"github.com/apflow/intake/internal/models"
)

// ErrUnparsableResponse indicates the generation output contained no JSON
// object that matches the classification schema. There is no default-to-OTH
// fallback: silently defaulting would mask generation errors, so the failure
// escalates through the queue's retry path.
var ErrUnparsableResponse = errors.New("unparsable classification response")

// promptTemplate is the fixed classification prompt. Placeholders: subject,
// body, extracted total amount, extracted invoice date.
const promptTemplate = `Classify this supplier invoice email into ONE intent code.

Subject: %s
Body: %s
Invoice data: amount=%s, date=%s

Codes:
- INV: Supplier submitting an invoice for payment
- CRN: Credit note or credit memo
- PAY: Payment status inquiry or remittance
- DIS: Dispute, discrepancy, or complaint
- DUP: Duplicate invoice submission
- OTH: Other / unclear

Return JSON only:
{"intent_code": "INV|CRN|PAY|DIS|DUP|OTH", "confidence": 0-100, "reasoning": "Brief explanation"}`

// Generator produces free text from a prompt. Implemented by llm.Client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Classifier is the intent-classification handler.
type Classifier struct {
	gen Generator
}

// NewClassifier creates a classification handler.
func NewClassifier(gen Generator) *Classifier {
	return &Classifier{gen: gen}
}

// rawResult mirrors the JSON object the model is instructed to return.
type rawResult struct {
	IntentCode string `json:"intent_code"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Classify builds the fixed prompt from the email and any structured
// extraction output, invokes generation, and derives the confidence tier.
// structured may be nil when extraction yielded nothing.
func (c *Classifier) Classify(ctx context.Context, subject, body string, structured *models.StructuredData) (*models.Classification, error) {
	var amount, date string
	if structured != nil {
		amount = structured.TotalAmount
		date = structured.InvoiceDate
	}

	prompt := fmt.Sprintf(promptTemplate, subject, body, amount, date)

	text, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("invoke generation: %w", err)
	}

	var raw rawResult
	if err := llm.ParseJSONObject(text, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableResponse, err)
	}

	code := models.IntentCode(raw.IntentCode)
	if !code.Valid() {
		return nil, fmt.Errorf("%w: unknown intent code %q", ErrUnparsableResponse, raw.IntentCode)
	}
	if raw.Confidence < 0 || raw.Confidence > 100 {
		return nil, fmt.Errorf("%w: confidence %d out of range", ErrUnparsableResponse, raw.Confidence)
	}

	result := &models.Classification{
		IntentCode:           code,
		Confidence:           raw.Confidence,
		ConfidenceLevel:      models.LevelFor(raw.Confidence),
		Reasoning:            raw.Reasoning,
		ManualReviewRequired: models.ManualReviewRequired(raw.Confidence),
	}

	slog.Info("email classified",
		"intent_code", result.IntentCode,
		"confidence", result.Confidence,
		"confidence_level", result.ConfidenceLevel,
		"manual_review", result.ManualReviewRequired,
	)

	return result, nil
}
