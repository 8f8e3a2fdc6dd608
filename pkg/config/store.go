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
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmctl/vm/pkg/lockfile"
	"github.com/vmctl/vm/pkg/paths"
	"github.com/vmctl/vm/pkg/schema"
	"github.com/vmctl/vm/pkg/vmerr"
)

const ProjectConfigName = "vm.yaml"

// Store reads and writes YAML at the project-local and global config
// locations, with dotted-path get/set/unset/clear.
type Store struct {
	paths       *paths.Paths
	projectFile string // override for --file, defaults to ./vm.yaml
}

func NewStore(p *paths.Paths) *Store {
	return &Store{paths: p, projectFile: ProjectConfigName}
}

// WithProjectFile returns a Store that reads/writes path instead of
// ./vm.yaml, for `vm init --file` and any other command that targets an
// explicit project file.
func (s *Store) WithProjectFile(path string) *Store {
	cp := *s
	if path != "" {
		cp.projectFile = path
	}
	return &cp
}

func (s *Store) fileFor(global bool) string {
	if global {
		return s.paths.GlobalConfigFile()
	}
	return s.projectFile
}

func (s *Store) namespaceFor(global bool) schema.Namespace {
	if global {
		return schema.Global
	}
	return schema.Project
}

// readDocument loads and parses a config file; a missing file yields an
// empty document, so callers (Get included) see a missing file the same
// way as a file with no fields set.
func readDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// writeDocument writes doc to path atomically: temp file in the same
// directory, then rename ("write is atomic" contract), holding
// an exclusive lock on path+".lock" for the duration.
func writeDocument(path string, doc *Document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return lockfile.WithLock(path+".lock", func() error {
		data, err := doc.Bytes()
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		tmp, err := os.CreateTemp(dir, ".vm-config-*.tmp")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("write temp file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmpName, path); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("rename temp file into place: %w", err)
		}
		return nil
	})
}

// Get renders the node at path as YAML, or the whole document when path is
// empty. Returns a KindNotFound error if path is absent.
func (s *Store) Get(dottedPath string, global bool) (string, error) {
	file := s.fileFor(global)
	doc, err := readDocument(file)
	if err != nil {
		return "", vmerr.Wrap(vmerr.KindConfig, "config.get", file, err)
	}
	node, ok := doc.Get(dottedPath)
	if !ok {
		return "", vmerr.Wrap(vmerr.KindNotFound, "config.get", dottedPath, fmt.Errorf("field not set"))
	}
	return RenderYAML(node)
}

// Set mutates path via the schema catalog and writes the result back.
// Returns the effective written value, rendered as YAML.
func (s *Store) Set(dottedPath string, values []string, global bool) (string, error) {
	file := s.fileFor(global)
	doc, err := readDocument(file)
	if err != nil {
		return "", vmerr.Wrap(vmerr.KindConfig, "config.set", file, err)
	}
	node, err := doc.SetTyped(s.namespaceFor(global), dottedPath, values)
	if err != nil {
		return "", vmerr.Wrap(vmerr.KindConfig, "config.set", dottedPath, err)
	}
	if err := writeDocument(file, doc); err != nil {
		return "", vmerr.Wrap(vmerr.KindFilesystem, "config.set", file, err)
	}
	return RenderYAML(node)
}

// Unset removes path's leaf; parents are never pruned.
func (s *Store) Unset(dottedPath string, global bool) error {
	file := s.fileFor(global)
	doc, err := readDocument(file)
	if err != nil {
		return vmerr.Wrap(vmerr.KindConfig, "config.unset", file, err)
	}
	if !doc.Unset(dottedPath) {
		return vmerr.Wrap(vmerr.KindNotFound, "config.unset", dottedPath, fmt.Errorf("field not set"))
	}
	if err := writeDocument(file, doc); err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "config.unset", file, err)
	}
	return nil
}

// Clear deletes the whole config file.
func (s *Store) Clear(global bool) error {
	file := s.fileFor(global)
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return vmerr.Wrap(vmerr.KindFilesystem, "config.clear", file, err)
	}
	return nil
}

// Project loads the parsed project document (possibly empty if absent).
func (s *Store) Project() (*Document, error) {
	doc, err := readDocument(s.projectFile)
	if err != nil {
		return nil, vmerr.Wrap(vmerr.KindConfig, "config.load", s.projectFile, err)
	}
	return doc, nil
}

// Global loads the parsed global document (possibly empty if absent).
func (s *Store) Global() (*Document, error) {
	file := s.paths.GlobalConfigFile()
	doc, err := readDocument(file)
	if err != nil {
		return nil, vmerr.Wrap(vmerr.KindConfig, "config.load", file, err)
	}
	return doc, nil
}
