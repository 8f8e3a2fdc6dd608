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

// Package preset resolves named presets from three sources with fixed
// precedence — user plugins, embedded built-ins, filesystem overrides — and
// parses them into the same config.Document shape regardless of origin.
// Built-ins are compiled into the binary via a //go:embed-backed,
// parsed-on-demand preset table.
package preset

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"tailscale.com/types/lazy"

	"github.com/vmctl/vm/pkg/config"
)

//go:embed presets/*.yaml
var embeddedFS embed.FS

// Detection carries the optional fingerprint hints a preset file can ship,
// consumed by the framework detector as one of several inputs.
type Detection struct {
	Fingerprint string `yaml:"fingerprint,omitempty"`
	Dependency  string `yaml:"dependency,omitempty"`
}

// Meta is the leading `preset: {...}` block every preset file carries.
type Meta struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Detection   *Detection `yaml:"detection,omitempty"`
	BoxOnly     bool       `yaml:"box_only,omitempty"`
}

// Preset pairs a preset's metadata with its config contribution.
type Preset struct {
	Meta Meta
	Doc  *config.Document
}

// Source identifies where a resolved preset came from, useful for
// diagnostics ("preset X loaded from plugin Y").
type Source int

const (
	SourcePlugin Source = iota
	SourceEmbedded
	SourceFilesystem
)

func (s Source) String() string {
	switch s {
	case SourcePlugin:
		return "plugin"
	case SourceEmbedded:
		return "embedded"
	case SourceFilesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// parseFile extracts the leading preset: block and returns the remaining
// document as the preset's config contribution.
func parseFile(data []byte) (*Preset, error) {
	doc, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse preset: %w", err)
	}
	node, ok := doc.Get("preset")
	if !ok {
		return nil, fmt.Errorf("preset file missing leading \"preset:\" block")
	}
	var meta Meta
	if err := node.Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode preset metadata: %w", err)
	}
	if meta.Name == "" {
		return nil, fmt.Errorf("preset file missing preset.name")
	}
	doc.Unset("preset")
	return &Preset{Meta: meta, Doc: doc}, nil
}

// Store resolves presets by name across the three sources, in precedence
// order: plugins, embedded, filesystem.
type Store struct {
	PluginsDir string // <user-data>/vm/plugins
	PresetsDir string // <presets-dir>

	embedded lazy.SyncValue[embeddedResult]
}

// embeddedResult bundles the lazily-computed embedded preset table with its
// load error, since lazy.SyncValue's Get has no error-returning variant.
type embeddedResult struct {
	presets map[string]*Preset
	err     error
}

func NewStore(pluginsDir, presetsDir string) *Store {
	return &Store{PluginsDir: pluginsDir, PresetsDir: presetsDir}
}

// loadEmbedded parses every compiled-in preset exactly once per process.
func (s *Store) loadEmbedded() (map[string]*Preset, error) {
	result := s.embedded.Get(func() embeddedResult {
		entries, err := fs.ReadDir(embeddedFS, "presets")
		if err != nil {
			return embeddedResult{err: fmt.Errorf("read embedded presets: %w", err)}
		}
		out := make(map[string]*Preset, len(entries))
		for _, entry := range entries {
			data, err := fs.ReadFile(embeddedFS, filepath.Join("presets", entry.Name()))
			if err != nil {
				return embeddedResult{err: fmt.Errorf("read embedded preset %s: %w", entry.Name(), err)}
			}
			p, err := parseFile(data)
			if err != nil {
				return embeddedResult{err: fmt.Errorf("embedded preset %s: %w", entry.Name(), err)}
			}
			out[p.Meta.Name] = p
		}
		return embeddedResult{presets: out}
	})
	return result.presets, result.err
}

// Load resolves a single preset by name, trying plugins, then embedded,
// then the filesystem overrides directory, in that order.
func (s *Store) Load(name string) (*Preset, Source, error) {
	if s.PluginsDir != "" {
		path := filepath.Join(s.PluginsDir, name+".yaml")
		if data, err := os.ReadFile(path); err == nil {
			p, err := parseFile(data)
			if err != nil {
				return nil, 0, fmt.Errorf("plugin preset %s: %w", name, err)
			}
			return p, SourcePlugin, nil
		}
	}

	embedded, err := s.loadEmbedded()
	if err != nil {
		return nil, 0, err
	}
	if p, ok := embedded[name]; ok {
		return p, SourceEmbedded, nil
	}

	if s.PresetsDir != "" {
		path := filepath.Join(s.PresetsDir, name+".yaml")
		if data, err := os.ReadFile(path); err == nil {
			p, err := parseFile(data)
			if err != nil {
				return nil, 0, fmt.Errorf("filesystem preset %s: %w", name, err)
			}
			return p, SourceFilesystem, nil
		}
	}

	return nil, 0, fmt.Errorf("preset %q not found", name)
}

// LoadAll resolves a comma-listed set of preset names, preserving order
// (the merge engine composes them left-to-right in the order given).
func (s *Store) LoadAll(names []string) ([]*Preset, error) {
	out := make([]*Preset, 0, len(names))
	for _, name := range names {
		p, _, err := s.Load(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// names collects every name visible at any source into one set, so a name
// present at several sources appears once.
func (s *Store) names() (map[string]bool, error) {
	seen := map[string]bool{}

	if s.PluginsDir != "" {
		entries, err := os.ReadDir(s.PluginsDir)
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					seen[trimYAMLExt(e.Name())] = true
				}
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("list plugin presets: %w", err)
		}
	}

	embedded, err := s.loadEmbedded()
	if err != nil {
		return nil, err
	}
	for name := range embedded {
		seen[name] = true
	}

	if s.PresetsDir != "" {
		entries, err := os.ReadDir(s.PresetsDir)
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					seen[trimYAMLExt(e.Name())] = true
				}
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("list filesystem presets: %w", err)
		}
	}

	return seen, nil
}

func trimYAMLExt(name string) string {
	ext := filepath.Ext(name)
	if ext == ".yaml" || ext == ".yml" {
		return name[:len(name)-len(ext)]
	}
	return name
}

// List returns the deduplicated, sorted union of preset names, hiding
// box-only presets used solely during `vm init`.
func (s *Store) List() ([]string, error) {
	seen, err := s.names()
	if err != nil {
		return nil, err
	}
	var out []string
	for name := range seen {
		p, _, err := s.Load(name)
		if err != nil {
			return nil, err
		}
		if p.Meta.BoxOnly {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ListAll is List but includes box-only presets.
func (s *Store) ListAll() ([]string, error) {
	seen, err := s.names()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
