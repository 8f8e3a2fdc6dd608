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

// Package lockfile provides the exclusive advisory file lock shared by the
// port registry, the service manager, and the ephemeral state manager —
// each guards its persistent state file with exactly this primitive.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is a held exclusive lock on path. Release with Unlock.
type Lock struct {
	path string
	f    *os.File
}

// Acquire blocks until an exclusive lock on path is held, creating path's
// parent directory and the lock file itself (0 bytes) if
// needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	l := &Lock{path: path, f: f}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	return l, nil
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}

// WithLock acquires path, runs fn, then releases the lock regardless of
// fn's outcome — the pattern used by every read-modify-write in C7/C8/C9.
func WithLock(path string, fn func() error) error {
	l, err := Acquire(path)
	if err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
