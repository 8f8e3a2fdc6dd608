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

// Package effective composes the hot-path config load: defaults (embedded
// "base" preset) <- global <- preset(s) <- project <- profile. It is the
// glue between config.Store, preset.Store, ftdetect and merge that none of
// those packages can own individually without an import cycle.
package effective

import (
	"strings"

	"github.com/vmctl/vm/pkg/config"
	"github.com/vmctl/vm/pkg/ftdetect"
	"github.com/vmctl/vm/pkg/merge"
	"github.com/vmctl/vm/pkg/preset"
)

// Options configures one load of the effective config.
type Options struct {
	NoPreset    bool
	Profile     string
	ProjectDir  string // used for framework auto-detection when the project doc names no preset
	PresetNames []string
}

// Load produces the fully merged, effective config document (in the
// composition order above), and the preset names actually applied.
func Load(store *config.Store, presets *preset.Store, opts Options) (*config.Document, []string, error) {
	global, err := store.Global()
	if err != nil {
		return nil, nil, err
	}
	project, err := store.Project()
	if err != nil {
		return nil, nil, err
	}

	layers := []*config.Document{}

	base, _, err := presets.Load("base")
	if err == nil {
		layers = append(layers, base.Doc)
	}
	layers = append(layers, global)

	var appliedNames []string
	if !opts.NoPreset {
		names := opts.PresetNames
		if len(names) == 0 {
			names = presetNamesFromProject(project)
		}
		if len(names) == 0 {
			if tag, ok := ftdetect.Detect(opts.ProjectDir); ok {
				names = []string{tag}
			}
		}
		loaded, err := presets.LoadAll(names)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range loaded {
			layers = append(layers, p.Doc)
			appliedNames = append(appliedNames, p.Meta.Name)
		}
	}

	layers = append(layers, project)

	result := merge.Layers(layers...)

	if opts.Profile != "" {
		result, err = merge.ApplyProfile(result, opts.Profile)
		if err != nil {
			return nil, nil, err
		}
	}

	return result, appliedNames, nil
}

// presetNamesFromProject reads a comma-separated preset list the project
// config may name explicitly at `preset`.
func presetNamesFromProject(project *config.Document) []string {
	node, ok := project.Get("preset")
	if !ok || node.Value == "" {
		return nil
	}
	parts := strings.Split(node.Value, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}
