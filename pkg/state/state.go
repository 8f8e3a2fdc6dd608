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

// Package state implements the ephemeral (`vm temp`) VM state manager: a
// single on-disk record guarded by a per-operation exclusive file lock,
// plus the mount validation rules shared by the CLI and the mount
// reconciler.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vmctl/vm/pkg/lockfile"
	"github.com/vmctl/vm/pkg/vmerr"
)

// Permission is a mount's access mode.
type Permission string

const (
	ReadOnly  Permission = "ro"
	ReadWrite Permission = "rw"
)

// Mount is one bind mount of the ephemeral VM.
type Mount struct {
	Source      string     `yaml:"source"`
	Target      string     `yaml:"target"`
	Permissions Permission `yaml:"permissions"`
}

// TempVMState is the single ephemeral-VM record persisted while a `vm
// temp` VM is alive, as YAML at <state>/temp-vm.state.
type TempVMState struct {
	ContainerName string    `yaml:"container_name"`
	Provider      string    `yaml:"provider"`
	CreatedAt     time.Time `yaml:"created_at"`
	ProjectDir    string    `yaml:"project_dir"`
	AutoDestroy   bool      `yaml:"auto_destroy"`
	Mounts        []Mount   `yaml:"mounts"`
}

// dangerousPrefixes is the mount-source denylist. A path is dangerous if
// it equals, or is nested under, one of these.
var dangerousPrefixes = []string{
	"/", "/etc", "/usr", "/var", "/bin", "/sbin", "/boot", "/sys", "/proc", "/dev", "/root",
}

// allowedTempPrefixes are always permitted even though they nest under a
// dangerous prefix (e.g. /tmp is not under /var on Linux, but /var/folders
// and /var/tmp are).
func allowedTempPrefixes() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/tmp", "/var/tmp", "/dev/shm", "/var/folders", "/private/tmp", "/private/var/tmp"}
	case "windows":
		return []string{stdTempDirWindows()}
	default:
		return []string{"/tmp", "/var/tmp", "/dev/shm"}
	}
}

func stdTempDirWindows() string {
	if t := os.Getenv("TEMP"); t != "" {
		return filepath.Clean(t)
	}
	if t := os.Getenv("TMP"); t != "" {
		return filepath.Clean(t)
	}
	return os.TempDir()
}

// IsDangerousMountSource reports whether path is on the denylist and not
// covered by a temp-directory exception. The "/" prefix makes every
// absolute path nominally dangerous, so exceptions are checked first.
func IsDangerousMountSource(path string) bool {
	clean := filepath.Clean(path)
	for _, allowed := range allowedTempPrefixes() {
		if hasPathPrefix(clean, allowed) {
			return false
		}
	}
	for _, bad := range dangerousPrefixes {
		if hasPathPrefix(clean, bad) {
			return true
		}
	}
	return false
}

// hasPathPrefix reports whether path equals prefix or is nested under it,
// respecting path boundaries (so "/usr2" is not considered nested under
// "/usr").
func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// Validate enforces four validation rules, run on every load
// and save.
func (s *TempVMState) Validate() error {
	if s.ContainerName == "" {
		return vmerr.New(vmerr.KindValidation, "state.validate", fmt.Errorf("container_name must not be empty"))
	}
	if s.Provider == "" {
		return vmerr.New(vmerr.KindValidation, "state.validate", fmt.Errorf("provider must not be empty"))
	}
	info, err := os.Stat(s.ProjectDir)
	if err != nil || !info.IsDir() {
		return vmerr.New(vmerr.KindValidation, "state.validate", fmt.Errorf("project_dir %q does not exist or is not a directory", s.ProjectDir))
	}
	seen := make(map[string]bool, len(s.Mounts))
	for _, m := range s.Mounts {
		if seen[m.Source] {
			return vmerr.New(vmerr.KindValidation, "state.validate", fmt.Errorf("duplicate mount source %q", m.Source))
		}
		seen[m.Source] = true

		mi, err := os.Stat(m.Source)
		if err != nil || !mi.IsDir() {
			return vmerr.New(vmerr.KindValidation, "state.validate", fmt.Errorf("mount source %q does not exist or is not a directory", m.Source))
		}
		if IsDangerousMountSource(m.Source) {
			return vmerr.New(vmerr.KindValidation, "state.validate", fmt.Errorf("mount source %q is a dangerous system path", m.Source))
		}
	}
	return nil
}

// ParseMount parses the CLI/temp-VM-binary mount grammar:
// source[:target][:permissions], permissions in {ro, rw}, default rw;
// target defaults to source.
func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) == 0 || parts[0] == "" {
		return Mount{}, fmt.Errorf("invalid mount spec %q: source is required", spec)
	}
	source, err := filepath.Abs(parts[0])
	if err != nil {
		return Mount{}, fmt.Errorf("invalid mount spec %q: %w", spec, err)
	}
	source = filepath.Clean(source)

	target := source
	perm := ReadWrite

	switch len(parts) {
	case 1:
	case 2:
		if p := Permission(parts[1]); p == ReadOnly || p == ReadWrite {
			perm = p
		} else {
			t, err := filepath.Abs(parts[1])
			if err != nil {
				return Mount{}, fmt.Errorf("invalid mount spec %q: %w", spec, err)
			}
			target = filepath.Clean(t)
		}
	case 3:
		t, err := filepath.Abs(parts[1])
		if err != nil {
			return Mount{}, fmt.Errorf("invalid mount spec %q: %w", spec, err)
		}
		target = filepath.Clean(t)
		p := Permission(parts[2])
		if p != ReadOnly && p != ReadWrite {
			return Mount{}, fmt.Errorf("invalid mount spec %q: permissions must be %q or %q", spec, ReadOnly, ReadWrite)
		}
		perm = p
	default:
		return Mount{}, fmt.Errorf("invalid mount spec %q: too many %q-separated fields", spec, ":")
	}

	return Mount{Source: source, Target: target, Permissions: perm}, nil
}

// Manager wraps load/save/delete plus a scratch-file registry, all behind
// the shared lockfile.
type Manager struct {
	statePath string
	lockPath  string
	scratch   []string
}

func NewManager(statePath, lockPath string) *Manager {
	return &Manager{statePath: statePath, lockPath: lockPath}
}

// Load implements load_state: StateNotFound if absent, else validated.
func (m *Manager) Load() (*TempVMState, error) {
	var state *TempVMState
	err := lockfile.WithLock(m.lockPath, func() error {
		data, err := os.ReadFile(m.statePath)
		if err != nil {
			if os.IsNotExist(err) {
				return vmerr.New(vmerr.KindNotFound, "state.load", fmt.Errorf("no ephemeral VM state found"))
			}
			return vmerr.Wrap(vmerr.KindState, "state.load", m.statePath, err)
		}
		var s TempVMState
		if err := yaml.Unmarshal(data, &s); err != nil {
			return vmerr.Wrap(vmerr.KindState, "state.load", m.statePath, err)
		}
		if err := s.Validate(); err != nil {
			return err
		}
		state = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Save implements save_state: validate, write to a unique temp file, rename
// over the canonical path.
func (m *Manager) Save(s *TempVMState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return lockfile.WithLock(m.lockPath, func() error {
		dir := filepath.Dir(m.statePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return vmerr.Wrap(vmerr.KindFilesystem, "state.save", m.statePath, err)
		}
		data, err := yaml.Marshal(s)
		if err != nil {
			return vmerr.Wrap(vmerr.KindState, "state.save", m.statePath, err)
		}
		tmp, err := os.CreateTemp(dir, ".temp-vm-*.tmp")
		if err != nil {
			return vmerr.Wrap(vmerr.KindFilesystem, "state.save", m.statePath, err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return vmerr.Wrap(vmerr.KindFilesystem, "state.save", m.statePath, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return vmerr.Wrap(vmerr.KindFilesystem, "state.save", m.statePath, err)
		}
		if err := os.Rename(tmpName, m.statePath); err != nil {
			os.Remove(tmpName)
			return vmerr.Wrap(vmerr.KindFilesystem, "state.save", m.statePath, err)
		}
		return nil
	})
}

// Delete implements delete_state.
func (m *Manager) Delete() error {
	return lockfile.WithLock(m.lockPath, func() error {
		if err := os.Remove(m.statePath); err != nil && !os.IsNotExist(err) {
			return vmerr.Wrap(vmerr.KindFilesystem, "state.delete", m.statePath, err)
		}
		return nil
	})
}

// CreateTempFile implements create_temp_file: a scratch file tracked for
// cleanup, used by snapshot and mount operations that need working storage.
func (m *Manager) CreateTempFile(prefix string) (*os.File, error) {
	f, err := os.CreateTemp("", prefix+"-*")
	if err != nil {
		return nil, vmerr.Wrap(vmerr.KindFilesystem, "state.create_temp_file", "", err)
	}
	m.scratch = append(m.scratch, f.Name())
	return f, nil
}

// CleanupTempFiles implements cleanup_temp_files: removes every scratch
// file registered via CreateTempFile during this operation.
func (m *Manager) CleanupTempFiles() {
	for _, name := range m.scratch {
		os.Remove(name)
	}
	m.scratch = nil
}
