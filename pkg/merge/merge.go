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

// Package merge implements deep-merge: objects recurse key-by-key, arrays
// replace wholesale, scalars and mixed types replace. The rule is applied
// pairwise (base, overlay) recursively over a generic YAML value tree.
package merge

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vmctl/vm/pkg/config"
)

// Documents merges overlay onto base and returns a new document; base and
// overlay are left untouched.
func Documents(base, overlay *config.Document) *config.Document {
	merged := mergeNode(base.Clone().Root(), overlay.Clone().Root())
	return docFromRoot(merged)
}

// docFromRoot builds a config.Document that wraps an already-built root
// node, via NewDocument+Set on each top-level key so config stays the sole
// owner of Document construction.
func docFromRoot(root *yaml.Node) *config.Document {
	d := config.NewDocument()
	if root.Kind != yaml.MappingNode {
		return d
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		_ = d.Set(key, root.Content[i+1])
	}
	return d
}

// mergeNode implements the pairwise rule. overlay wins whenever the kinds
// don't both indicate "object".
func mergeNode(base, overlay *yaml.Node) *yaml.Node {
	if overlay == nil {
		return base
	}
	if base == nil {
		return overlay
	}
	if base.Kind == yaml.MappingNode && overlay.Kind == yaml.MappingNode {
		return mergeMappings(base, overlay)
	}
	// Arrays replace wholesale; scalars/mixed types replace. Either way,
	// the overlay value wins outright.
	return overlay
}

func mergeMappings(base, overlay *yaml.Node) *yaml.Node {
	result := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	// Preserve base's key order, then append overlay-only keys in overlay
	// order, so merge output keeps the same "insertion order is preserved"
	// property config.Document relies on.
	seen := make(map[string]bool)
	for i := 0; i+1 < len(base.Content); i += 2 {
		key := base.Content[i].Value
		seen[key] = true
		var merged *yaml.Node
		if ov := overlayValue(overlay, key); ov != nil {
			merged = mergeNode(base.Content[i+1], ov)
		} else {
			merged = base.Content[i+1]
		}
		result.Content = append(result.Content, base.Content[i], merged)
	}
	for i := 0; i+1 < len(overlay.Content); i += 2 {
		key := overlay.Content[i].Value
		if seen[key] {
			continue
		}
		result.Content = append(result.Content, overlay.Content[i], overlay.Content[i+1])
	}
	return result
}

func overlayValue(overlay *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(overlay.Content); i += 2 {
		if overlay.Content[i].Value == key {
			return overlay.Content[i+1]
		}
	}
	return nil
}

// Layers merges a left-to-right precedence stack: defaults, global,
// presets (in listed order), user, and (via ApplyProfile) a profile
// overlay, each one merged onto the accumulated result so far.
func Layers(layers ...*config.Document) *config.Document {
	if len(layers) == 0 {
		return config.NewDocument()
	}
	result := layers[0]
	for _, l := range layers[1:] {
		result = Documents(result, l)
	}
	return result
}

// ApplyProfile merges base.profiles[name] onto base as a final overlay.
// Missing profile is an error.
func ApplyProfile(base *config.Document, name string) (*config.Document, error) {
	node, ok := base.Get("profiles." + name)
	if !ok {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("profile %q is not an object", name)
	}
	overlay := docFromRoot(node)
	return Documents(base, overlay), nil
}
