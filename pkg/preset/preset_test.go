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

package preset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbeddedPreset(t *testing.T) {
	s := NewStore("", "")
	p, src, err := s.Load("django")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if src != SourceEmbedded {
		t.Errorf("got source %v, want embedded", src)
	}
	if p.Meta.Name != "django" {
		t.Errorf("got name %q", p.Meta.Name)
	}
	if node, ok := p.Doc.Get("services.postgresql.enabled"); !ok || node.Value != "true" {
		t.Errorf("expected services.postgresql.enabled=true, got %v %v", ok, node)
	}
	// the leading preset: block must not leak into the config contribution
	if _, ok := p.Doc.Get("preset"); ok {
		t.Errorf("preset metadata block should have been stripped")
	}
}

func TestLoadUnknownPresetErrors(t *testing.T) {
	s := NewStore("", "")
	if _, _, err := s.Load("does-not-exist"); err == nil {
		t.Errorf("expected error for unknown preset")
	}
}

func TestFilesystemPresetOverridesNothingWithoutNameClash(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte("preset:\n  name: custom\nvm:\n  memory: 8192\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore("", dir)
	p, src, err := s.Load("custom")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if src != SourceFilesystem {
		t.Errorf("got source %v, want filesystem", src)
	}
	if node, ok := p.Doc.Get("vm.memory"); !ok || node.Value != "8192" {
		t.Errorf("got %v %v", ok, node)
	}
}

func TestPluginPresetTakesPrecedenceOverEmbedded(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "django.yaml"), []byte("preset:\n  name: django\nvm:\n  memory: 16384\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(dir, "")
	p, src, err := s.Load("django")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if src != SourcePlugin {
		t.Errorf("got source %v, want plugin", src)
	}
	if node, ok := p.Doc.Get("vm.memory"); !ok || node.Value != "16384" {
		t.Errorf("expected plugin override to win, got %v %v", ok, node)
	}
}

func TestListHidesBoxOnlyPresets(t *testing.T) {
	s := NewStore("", "")
	names, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, n := range names {
		if n == "base" {
			t.Errorf("expected box-only preset 'base' to be hidden from List()")
		}
	}
	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	found := false
	for _, n := range all {
		if n == "base" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected 'base' to appear in ListAll()")
	}
}

func TestLoadAllPreservesOrder(t *testing.T) {
	s := NewStore("", "")
	presets, err := s.LoadAll([]string{"react", "rust"})
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(presets) != 2 || presets[0].Meta.Name != "react" || presets[1].Meta.Name != "rust" {
		t.Errorf("got %v", presets)
	}
}
