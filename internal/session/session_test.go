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

package session

import "testing"

// TestKeyForObject verifies the deterministic session id construction.
func TestKeyForObject(t *testing.T) {
	tests := []struct {
		objectKey string
		want      string
	}{
		{"incoming/msg1.eml", "session-incoming-msg1.eml"},
		{"msg1.eml", "session-msg1.eml"},
		{"a/b/c.eml", "session-a-b-c.eml"},
		{"", "session-"},
	}

	for _, tt := range tests {
		if got := KeyForObject(tt.objectKey); got != tt.want {
			t.Errorf("KeyForObject(%q) = %q, want %q", tt.objectKey, got, tt.want)
		}
	}

	// Same key, same session — the whole point.
	if KeyForObject("incoming/msg1.eml") != KeyForObject("incoming/msg1.eml") {
		t.Error("KeyForObject is not deterministic")
	}
}
