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

package config

import (
	"path/filepath"
	"testing"

	"github.com/vmctl/vm/pkg/paths"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	p, err := paths.Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("paths.Resolve: %v", err)
	}
	return NewStore(p).WithProjectFile(filepath.Join(t.TempDir(), "vm.yaml"))
}

func TestStoreSetThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Set("vm.memory", []string{"4096"}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	out, err := s.Get("vm.memory", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out != "4096\n" {
		t.Errorf("Get = %q, want %q", out, "4096\n")
	}
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("vm.memory", false); err == nil {
		t.Errorf("expected error for unset field")
	}
}

func TestStoreUnsetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.Unset("vm.memory", false); err == nil {
		t.Errorf("expected error unsetting a field that was never set")
	}
}

func TestStoreSetUnsetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Set("vm.memory", []string{"2048"}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Unset("vm.memory", false); err != nil {
		t.Fatalf("Unset: %v", err)
	}
	if _, err := s.Get("vm.memory", false); err == nil {
		t.Errorf("expected field to be gone after Unset")
	}
}

func TestStoreClearRemovesFile(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Set("vm.memory", []string{"2048"}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Clear(false); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	doc, err := s.Project()
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if _, ok := doc.Get("vm.memory"); ok {
		t.Errorf("expected empty document after Clear")
	}
}

func TestStoreClearOnMissingFileIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Clear(false); err != nil {
		t.Errorf("Clear on a file that was never written: %v", err)
	}
}

func TestWithProjectFileIsolatesInstances(t *testing.T) {
	p, err := paths.Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("paths.Resolve: %v", err)
	}
	base := NewStore(p).WithProjectFile(filepath.Join(t.TempDir(), "a.yaml"))
	other := base.WithProjectFile(filepath.Join(t.TempDir(), "b.yaml"))

	if _, err := base.Set("vm.memory", []string{"1024"}, false); err != nil {
		t.Fatalf("Set on base: %v", err)
	}
	if _, err := other.Get("vm.memory", false); err == nil {
		t.Errorf("expected other's separate project file to be unaffected by base's Set")
	}
}
