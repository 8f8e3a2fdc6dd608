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

package state

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestIsDangerousMountSource(t *testing.T) {
	cases := []struct {
		path      string
		dangerous bool
	}{
		{"/etc", true},
		{"/etc/passwd", true},
		{"/usr/local", true},
		{"/home/dev/project", false},
		{"/tmp/foo", false},
		{"/tmpfoo", true}, // not a real exception, falls under "/" denylist
	}
	for _, c := range cases {
		if got := IsDangerousMountSource(c.path); got != c.dangerous {
			t.Errorf("IsDangerousMountSource(%q) = %v, want %v", c.path, got, c.dangerous)
		}
	}
}

func TestParseMountDefaults(t *testing.T) {
	m, err := ParseMount("/host/data")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Target != m.Source || m.Permissions != ReadWrite {
		t.Errorf("got %+v", m)
	}
}

func TestParseMountWithPermissionOnly(t *testing.T) {
	m, err := ParseMount("/host/data:ro")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Permissions != ReadOnly {
		t.Errorf("expected ro, got %v", m.Permissions)
	}
	if m.Target != m.Source {
		t.Errorf("expected target to default to source")
	}
}

func TestParseMountWithTargetAndPermission(t *testing.T) {
	m, err := ParseMount("/host/data:/container/data:ro")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Permissions != ReadOnly {
		t.Errorf("expected ro, got %v", m.Permissions)
	}
	if filepath.Base(m.Target) != "data" {
		t.Errorf("got target %q", m.Target)
	}
}

func TestParseMountInvalidPermission(t *testing.T) {
	if _, err := ParseMount("/host/data:/container/data:bogus"); err == nil {
		t.Errorf("expected error for invalid permission")
	}
}

func TestValidateRejectsDuplicateMounts(t *testing.T) {
	dir := t.TempDir()
	s := &TempVMState{
		ContainerName: "vm-test",
		Provider:      "docker",
		ProjectDir:    dir,
		Mounts: []Mount{
			{Source: dir, Target: dir, Permissions: ReadWrite},
			{Source: dir, Target: dir, Permissions: ReadOnly},
		},
	}
	if err := s.Validate(); err == nil {
		t.Errorf("expected duplicate mount source error")
	}
}

func TestValidateRejectsMissingProjectDir(t *testing.T) {
	s := &TempVMState{
		ContainerName: "vm-test",
		Provider:      "docker",
		ProjectDir:    "/nonexistent/path/does/not/exist",
	}
	if err := s.Validate(); err == nil {
		t.Errorf("expected project_dir error")
	}
}

func TestSaveLoadDeleteRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses Unix-style absolute temp dirs")
	}
	dir := t.TempDir()
	mgr := NewManager(filepath.Join(dir, "temp-vm.state"), filepath.Join(dir, ".temp-vm.lock"))

	s := &TempVMState{
		ContainerName: "vm-test",
		Provider:      "docker",
		CreatedAt:     time.Now().Truncate(time.Second),
		ProjectDir:    dir,
	}
	if err := mgr.Save(s); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ContainerName != "vm-test" {
		t.Errorf("got %+v", loaded)
	}
	if err := mgr.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := mgr.Load(); err == nil {
		t.Errorf("expected StateNotFound after delete")
	}
}

func TestCreateAndCleanupTempFiles(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(filepath.Join(dir, "temp-vm.state"), filepath.Join(dir, ".temp-vm.lock"))

	f, err := mgr.CreateTempFile("vm-scratch")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	name := f.Name()
	f.Close()

	mgr.CleanupTempFiles()

	if _, err := filepath.Glob(name); err != nil {
		t.Fatalf("glob: %v", err)
	}
}
