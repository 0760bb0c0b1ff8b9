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

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apflow/intake/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewClient(context.Background(), config.ModelGatewayConfig{
		BaseURL: server.URL,
		Model:   "test-model",
		APIKey:  "key123",
		Timeout: 5 * time.Second,
	})
	return c, server
}

// TestGenerate verifies a generation round trip, including model id, API key
// header, and text assembly.
func TestGenerate(t *testing.T) {
	var gotReq map[string]any
	var gotKey string

	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}`))
	})

	text, err := c.Generate(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
	if gotKey != "key123" {
		t.Errorf("X-Api-Key = %q, want key123", gotKey)
	}
	if gotReq["model"] != "test-model" {
		t.Errorf("model = %v, want test-model", gotReq["model"])
	}
}

// TestGenerate_HTTPError verifies non-200 responses are errors.
func TestGenerate_HTTPError(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
	})

	if _, err := c.Generate(context.Background(), "p"); err == nil {
		t.Fatal("Generate succeeded on HTTP 429, want error")
	}
}

// TestExtractDocument verifies the document block is base64 encoded and the
// instruction rides along as a text block.
func TestExtractDocument(t *testing.T) {
	var gotReq struct {
		Messages []struct {
			Content []struct {
				Type   string `json:"type"`
				Text   string `json:"text"`
				Source *struct {
					Type      string `json:"type"`
					MediaType string `json:"media_type"`
					Data      string `json:"data"`
				} `json:"source"`
			} `json:"content"`
		} `json:"messages"`
	}

	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"invoice_numbers\":[\"INV-1\"]}"}]}`))
	})

	text, err := c.ExtractDocument(context.Background(), []byte("%PDF-1.4 fake"), "extract fields")
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if text != `{"invoice_numbers":["INV-1"]}` {
		t.Errorf("text = %q", text)
	}

	if len(gotReq.Messages) != 1 || len(gotReq.Messages[0].Content) != 2 {
		t.Fatalf("unexpected request shape: %+v", gotReq)
	}
	doc := gotReq.Messages[0].Content[0]
	if doc.Type != "document" || doc.Source == nil || doc.Source.MediaType != "application/pdf" {
		t.Errorf("document block = %+v", doc)
	}
	if doc.Source.Data == "" {
		t.Error("document data is empty, want base64 payload")
	}
	if instr := gotReq.Messages[0].Content[1]; instr.Type != "text" || instr.Text != "extract fields" {
		t.Errorf("instruction block = %+v", instr)
	}
}

// TestParseJSONObject verifies direct parse and the brace-extraction fallback.
func TestParseJSONObject(t *testing.T) {
	type out struct {
		IntentCode string `json:"intent_code"`
		Confidence int    `json:"confidence"`
	}

	tests := []struct {
		name    string
		text    string
		want    out
		wantErr bool
	}{
		{
			name: "clean JSON",
			text: `{"intent_code":"INV","confidence":95}`,
			want: out{"INV", 95},
		},
		{
			name: "JSON wrapped in prose",
			text: "Here is the classification:\n{\"intent_code\":\"CRN\",\"confidence\":80}\nHope that helps.",
			want: out{"CRN", 80},
		},
		{
			name: "JSON in a code fence",
			text: "```json\n{\"intent_code\":\"PAY\",\"confidence\":70}\n```",
			want: out{"PAY", 70},
		},
		{
			name:    "no JSON at all",
			text:    "I could not classify this email.",
			wantErr: true,
		},
		{
			name:    "malformed braces",
			text:    "result: {intent_code: INV",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got out
			err := ParseJSONObject(tt.text, &got)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseJSONObject succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseJSONObject: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
