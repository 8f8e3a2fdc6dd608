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

// Package port implements the port registry: a persisted
// ordered map of name to [start,end] port range, guarding VMs and shared
// services from allocating overlapping host ports.
package port

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/docker/go-connections/nat"

	"github.com/vmctl/vm/pkg/lockfile"
	"github.com/vmctl/vm/pkg/vmerr"
)

// Range is an inclusive [Start,End] port range.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Overlaps reports whether r and other share any port.
func (r Range) Overlaps(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Size is the number of ports the range covers.
func (r Range) Size() uint64 { return r.End - r.Start + 1 }

// ParseRange accepts "8000-9000" or a single "8000" (degenerate one-port
// range), delegating to docker/go-connections/nat's port-range parser so CLI
// input is validated the same way the Docker CLI itself validates
// `-p`/`--expose` ranges.
func ParseRange(s string) (Range, error) {
	start, end, err := nat.ParsePortRange(s)
	if err != nil {
		return Range{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	return Range{Start: start, End: end}, nil
}

// entry is the on-disk representation of one registry row. Entries are
// stored in a slice, not a map, so that insertion order round-trips as the
// "persisted ordered map" requires.
type entry struct {
	Name  string `json:"name"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

type document struct {
	Entries []entry `json:"entries"`
}

// Registry is the in-memory view of the port-registry.json file; callers
// get a fresh Registry per operation via Load and persist changes via Save,
// both under the same lockfile discipline as pkg/state and pkg/service use.
type Registry struct {
	path    string
	entries []entry
}

// Load reads the registry file, or returns an empty Registry if it doesn't
// exist yet.
func Load(path string) (*Registry, error) {
	var reg *Registry
	err := lockfile.WithLock(path+".lock", func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				reg = &Registry{path: path}
				return nil
			}
			return vmerr.Wrap(vmerr.KindState, "port.load", path, err)
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return vmerr.Wrap(vmerr.KindState, "port.load", path, err)
		}
		reg = &Registry{path: path, entries: doc.Entries}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Save writes the registry atomically under an exclusive lock on
// path+".lock", mirroring config.writeDocument's temp-file-then-rename
// pattern.
func (r *Registry) Save() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "port.save", r.path, err)
	}
	return lockfile.WithLock(r.path+".lock", func() error {
		data, err := json.MarshalIndent(document{Entries: r.entries}, "", "  ")
		if err != nil {
			return vmerr.Wrap(vmerr.KindState, "port.save", r.path, err)
		}
		tmp, err := os.CreateTemp(dir, ".port-registry-*.tmp")
		if err != nil {
			return vmerr.Wrap(vmerr.KindFilesystem, "port.save", r.path, err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return vmerr.Wrap(vmerr.KindFilesystem, "port.save", r.path, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return vmerr.Wrap(vmerr.KindFilesystem, "port.save", r.path, err)
		}
		if err := os.Rename(tmpName, r.path); err != nil {
			os.Remove(tmpName)
			return vmerr.Wrap(vmerr.KindFilesystem, "port.save", r.path, err)
		}
		return nil
	})
}

// CheckConflicts returns the names of every entry overlapping r.
func (r *Registry) CheckConflicts(rng Range) []string {
	var conflicts []string
	for _, e := range r.entries {
		if (Range{Start: e.Start, End: e.End}).Overlaps(rng) {
			conflicts = append(conflicts, e.Name)
		}
	}
	return conflicts
}

// RegisterRange adds name -> rng. Fails outright on any overlap; never
// partially allocates.
func (r *Registry) RegisterRange(name string, rng Range) error {
	if conflicts := r.CheckConflicts(rng); len(conflicts) > 0 {
		return vmerr.New(vmerr.KindValidation, "port.register", fmt.Errorf(
			"range %d-%d overlaps existing registration(s): %v", rng.Start, rng.End, conflicts))
	}
	for i, e := range r.entries {
		if e.Name == name {
			r.entries[i] = entry{Name: name, Start: rng.Start, End: rng.End}
			return nil
		}
	}
	r.entries = append(r.entries, entry{Name: name, Start: rng.Start, End: rng.End})
	return nil
}

// Release removes name's entry, if present.
func (r *Registry) Release(name string) {
	for i, e := range r.entries {
		if e.Name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Get returns name's registered range.
func (r *Registry) Get(name string) (Range, bool) {
	for _, e := range r.entries {
		if e.Name == name {
			return Range{Start: e.Start, End: e.End}, true
		}
	}
	return Range{}, false
}

// SuggestNextRange returns the lowest free [a, a+size-1] within [lower,
// upper], or an error if none exists.
func (r *Registry) SuggestNextRange(lower, upper uint64, size uint64) (Range, error) {
	if size == 0 || lower > upper {
		return Range{}, vmerr.New(vmerr.KindValidation, "port.suggest", fmt.Errorf("invalid bounds [%d,%d] size %d", lower, upper, size))
	}
	occupied := make([]Range, 0, len(r.entries))
	for _, e := range r.entries {
		occupied = append(occupied, Range{Start: e.Start, End: e.End})
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i].Start < occupied[j].Start })

	for candidateStart := lower; candidateStart+size-1 <= upper; {
		candidate := Range{Start: candidateStart, End: candidateStart + size - 1}
		blocked := false
		for _, occ := range occupied {
			if occ.Overlaps(candidate) {
				candidateStart = occ.End + 1
				blocked = true
				break
			}
		}
		if !blocked {
			return candidate, nil
		}
	}
	return Range{}, vmerr.New(vmerr.KindNotFound, "port.suggest", fmt.Errorf(
		"no free range of size %d within [%d,%d]", size, lower, upper))
}

// Entries returns a snapshot of the registry keyed by name, for `vm
// list --ports`-style reporting. A map carries no order; Names gives the
// persisted order.
func (r *Registry) Entries() map[string]Range {
	out := make(map[string]Range, len(r.entries))
	for _, e := range r.entries {
		out[e.Name] = Range{Start: e.Start, End: e.End}
	}
	return out
}

// Names returns registered names in persisted (insertion) order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}
