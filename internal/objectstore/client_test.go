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

package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestFetch verifies a successful object fetch, including the request path
// and bearer token.
func TestFetch(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("raw email bytes"))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok123")
	data, err := c.Fetch(context.Background(), "invoice-emails", "incoming/msg1.eml")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if string(data) != "raw email bytes" {
		t.Errorf("data = %q, want raw email bytes", data)
	}
	if gotPath != "/invoice-emails/incoming/msg1.eml" {
		t.Errorf("path = %q, want /invoice-emails/incoming/msg1.eml", gotPath)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q, want Bearer tok123", gotAuth)
	}
}

// TestFetch_NotFound verifies a missing object is an error.
func TestFetch_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	if _, err := c.Fetch(context.Background(), "bucket", "missing.eml"); err == nil {
		t.Fatal("Fetch succeeded for missing object, want error")
	}
}

// TestFetch_ServerError verifies non-200 responses propagate as errors.
func TestFetch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	if _, err := c.Fetch(context.Background(), "bucket", "key.eml"); err == nil {
		t.Fatal("Fetch succeeded on HTTP 500, want error")
	}
}
