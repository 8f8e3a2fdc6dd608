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

package paths

import (
	"path/filepath"
	"testing"
)

func TestResolveWithToolDirIsolatesEverything(t *testing.T) {
	root := t.TempDir()
	p, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for _, dir := range []string{p.ConfigDir, p.DataDir, p.BinDir, p.CacheDir, p.StateDir} {
		if !filepath.IsAbs(dir) {
			t.Errorf("expected absolute path, got %q", dir)
		}
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == ".." || filepath.IsAbs(rel) {
			t.Errorf("expected %q to live under tool dir %q", dir, root)
		}
	}
}

func TestDerivedFilesAreUnderStateDir(t *testing.T) {
	p, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, f := range []string{p.PortRegistryFile(), p.TempVMStateFile(), p.TempVMLockFile(), p.ServiceStateFile()} {
		if filepath.Dir(f) != p.StateDir {
			t.Errorf("expected %q to live directly under state dir %q", f, p.StateDir)
		}
	}
}

func TestResolveFromEnvHonoursVMToolDir(t *testing.T) {
	root := t.TempDir()
	t.Setenv("VM_TOOL_DIR", root)
	p, err := ResolveFromEnv()
	if err != nil {
		t.Fatalf("ResolveFromEnv: %v", err)
	}
	if p.StateDir != filepath.Join(root, "state") {
		t.Errorf("StateDir = %q, want under %q", p.StateDir, root)
	}
}
