// Copyright 2025 AUTHORS
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

package port

import (
	"path/filepath"
	"testing"
)

func TestRegisterRangeRejectsOverlap(t *testing.T) {
	r := &Registry{path: filepath.Join(t.TempDir(), "port-registry.json")}
	if err := r.RegisterRange("web", Range{Start: 3000, End: 3010}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.RegisterRange("api", Range{Start: 3005, End: 3020}); err == nil {
		t.Fatalf("expected overlap error")
	}
	if err := r.RegisterRange("api", Range{Start: 3011, End: 3020}); err != nil {
		t.Fatalf("adjacent non-overlapping register: %v", err)
	}
}

func TestCheckConflicts(t *testing.T) {
	r := &Registry{path: filepath.Join(t.TempDir(), "port-registry.json")}
	_ = r.RegisterRange("a", Range{Start: 100, End: 200})
	_ = r.RegisterRange("b", Range{Start: 300, End: 400})

	conflicts := r.CheckConflicts(Range{Start: 150, End: 350})
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %v", conflicts)
	}
}

func TestSuggestNextRangeFindsLowestFree(t *testing.T) {
	r := &Registry{path: filepath.Join(t.TempDir(), "port-registry.json")}
	_ = r.RegisterRange("a", Range{Start: 3000, End: 3009})

	got, err := r.SuggestNextRange(3000, 3100, 10)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if got.Start != 3010 {
		t.Errorf("got start %d, want 3010", got.Start)
	}
}

func TestSuggestNextRangeExhausted(t *testing.T) {
	r := &Registry{path: filepath.Join(t.TempDir(), "port-registry.json")}
	_ = r.RegisterRange("a", Range{Start: 3000, End: 3009})

	if _, err := r.SuggestNextRange(3000, 3009, 10); err == nil {
		t.Fatalf("expected exhaustion error")
	}
}

func TestReleaseRemovesEntry(t *testing.T) {
	r := &Registry{path: filepath.Join(t.TempDir(), "port-registry.json")}
	_ = r.RegisterRange("a", Range{Start: 100, End: 200})
	r.Release("a")
	if _, ok := r.Get("a"); ok {
		t.Errorf("expected entry to be released")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "port-registry.json")
	r := &Registry{path: path}
	_ = r.RegisterRange("web", Range{Start: 3000, End: 3010})
	_ = r.RegisterRange("api", Range{Start: 4000, End: 4010})
	if err := r.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if names := loaded.Names(); len(names) != 2 || names[0] != "web" || names[1] != "api" {
		t.Errorf("expected insertion order preserved, got %v", names)
	}
}

func TestLoadMissingFileIsEmptyRegistry(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(r.Names()) != 0 {
		t.Errorf("expected empty registry")
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("8000-9000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Start != 8000 || r.End != 9000 {
		t.Errorf("got %+v", r)
	}

	if _, err := ParseRange("9000-8000"); err == nil {
		t.Errorf("expected error for descending range")
	}
}
