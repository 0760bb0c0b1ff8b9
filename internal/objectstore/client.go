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

// Package objectstore provides a client that retrieves raw email objects
// from an S3-compatible HTTP gateway. The pipeline only ever reads objects;
// writes happen upstream at the mail gateway.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client fetches objects by bucket and key.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

// NewClient creates an object store client for the given gateway base URL.
// accessToken is optional; when set it is sent as a bearer token.
func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
	}
}

// Fetch retrieves the raw bytes of one object. A missing object or any
// non-200 response is an error: the caller's whole handler invocation is
// expected to fail and be retried by the queue contract.
func (c *Client) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(bucket), escapeKey(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch object %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object store returned HTTP %d for %s/%s", resp.StatusCode, bucket, key)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}

	return data, nil
}

// escapeKey path-escapes each segment of an object key while preserving the
// `/` separators (keys are hierarchical, e.g. "incoming/msg1.eml").
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
