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

package effective

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vmctl/vm/pkg/config"
	"github.com/vmctl/vm/pkg/paths"
	"github.com/vmctl/vm/pkg/preset"
)

func TestLoadAppliesDetectedPreset(t *testing.T) {
	tool := t.TempDir()
	p, err := paths.Resolve(tool)
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}
	projectDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(projectDir, "manage.py"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	projectFile := filepath.Join(projectDir, "vm.yaml")
	if err := os.WriteFile(projectFile, []byte("vm:\n  cpus: 8\n"), 0644); err != nil {
		t.Fatal(err)
	}

	store := config.NewStore(p).WithProjectFile(projectFile)
	presets := preset.NewStore(p.PluginsDir(), p.PresetsDir())

	doc, applied, err := Load(store, presets, Options{ProjectDir: projectDir})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(applied) != 1 || applied[0] != "django" {
		t.Errorf("got applied=%v, want [django]", applied)
	}
	if node, ok := doc.Get("vm.cpus"); !ok || node.Value != "8" {
		t.Errorf("expected project override vm.cpus=8 to win, got %v %v", ok, node)
	}
	if node, ok := doc.Get("services.postgresql.enabled"); !ok || node.Value != "true" {
		t.Errorf("expected django preset's postgresql service enabled, got %v %v", ok, node)
	}
}

func TestLoadNoPresetSkipsDetection(t *testing.T) {
	tool := t.TempDir()
	p, err := paths.Resolve(tool)
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}
	projectDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(projectDir, "manage.py"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	store := config.NewStore(p)
	presets := preset.NewStore(p.PluginsDir(), p.PresetsDir())

	doc, applied, err := Load(store, presets, Options{ProjectDir: projectDir, NoPreset: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected no presets applied, got %v", applied)
	}
	if _, ok := doc.Get("services.postgresql.enabled"); ok {
		t.Errorf("expected no django preset contribution")
	}
}
