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

// Package llm provides a client for the model gateway's messages API,
// covering the two capabilities the pipeline needs: free-text generation and
// structured extraction over PDF documents. Authentication is either a
// static API key header or an OAuth2 client-credentials transport.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/apflow/intake/internal/config"
)

const (
	generateMaxTokens = 300
	extractMaxTokens  = 2000
)

// Client talks to the model gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
}

// NewClient creates a model gateway client from config. When OAuth
// credentials are configured they take precedence over the API key, and the
// returned client refreshes tokens automatically.
func NewClient(ctx context.Context, cfg config.ModelGatewayConfig) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	if cfg.OAuthTokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			TokenURL:     cfg.OAuthTokenURL,
			Scopes:       cfg.OAuthScopes,
		}
		httpClient = creds.Client(ctx)
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
	}
}

// contentBlock is one block of a message: plain text or a base64 document.
type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *blockSource `json:"source,omitempty"`
}

type blockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends a plain text prompt and returns the model's free-text
// response. The response is expected — not guaranteed — to contain JSON;
// parsing is the caller's concern.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := messagesRequest{
		Model:     c.model,
		MaxTokens: generateMaxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	return c.invoke(ctx, req)
}

// ExtractDocument sends a PDF with an extraction instruction and returns the
// raw text response.
func (c *Client) ExtractDocument(ctx context.Context, doc []byte, instruction string) (string, error) {
	req := messagesRequest{
		Model:     c.model,
		MaxTokens: extractMaxTokens,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{
					Type: "document",
					Source: &blockSource{
						Type:      "base64",
						MediaType: "application/pdf",
						Data:      base64.StdEncoding.EncodeToString(doc),
					},
				},
				{Type: "text", Text: instruction},
			},
		}},
	}
	return c.invoke(ctx, req)
}

func (c *Client) invoke(ctx context.Context, payload messagesRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model gateway returned HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 512))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("model gateway error: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("model gateway returned no text content")
	}

	return text.String(), nil
}

// ParseJSONObject unmarshals a model response into v. It tries the full text
// first; when the model wrapped the JSON in prose or fences, it falls back to
// the first-to-last brace substring.
func ParseJSONObject(text string, v any) error {
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object found in response")
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("parse extracted JSON object: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
