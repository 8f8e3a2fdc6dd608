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

// Package config implements the configuration document, the config store,
// and the schema-directed mutation the store needs. Documents are built on
// yaml.v3's yaml.Node so that key insertion order survives a
// read/modify/write round trip.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is an ordered configuration tree rooted at a mapping node.
type Document struct {
	root *yaml.Node // always a MappingNode
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{root: newMapping()}
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// Parse decodes YAML bytes into a Document. Empty input yields an empty
// document rather than an error.
func Parse(data []byte) (*Document, error) {
	if len(data) == 0 {
		return NewDocument(), nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc.Kind == 0 {
		return NewDocument(), nil
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return NewDocument(), nil
		}
		root = doc.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse yaml: top-level document must be a mapping")
	}
	return &Document{root: root}, nil
}

// Bytes renders the document back to YAML, preserving key order.
func (d *Document) Bytes() ([]byte, error) {
	return yaml.Marshal(d.root)
}

// Root returns the underlying mapping node (used by the merge engine).
func (d *Document) Root() *yaml.Node { return d.root }

// Clone deep-copies the document.
func (d *Document) Clone() *Document {
	return &Document{root: cloneNode(d.root)}
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Content = make([]*yaml.Node, len(n.Content))
	for i, c := range n.Content {
		cp.Content[i] = cloneNode(c)
	}
	cp.Alias = cloneNode(n.Alias)
	return &cp
}

func splitPath(dotted string) []string {
	var parts []string
	cur := ""
	depth := 0
	for _, r := range dotted {
		switch r {
		case '[':
			depth++
			cur += string(r)
		case ']':
			depth--
			cur += string(r)
		case '.':
			if depth == 0 {
				parts = append(parts, cur)
				cur = ""
				continue
			}
			cur += string(r)
		default:
			cur += string(r)
		}
	}
	parts = append(parts, cur)
	return parts
}

// mappingGet finds the value node for key in a mapping node, or nil.
func mappingGet(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// mappingSet inserts or replaces key's value in a mapping node, preserving
// the existing position on replace and appending on insert (so insertion
// order is preserved).
func mappingSet(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	m.Content = append(m.Content, keyNode, value)
}

// mappingDelete removes key from a mapping node. Returns true if it was
// present.
func mappingDelete(m *yaml.Node, key string) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content = append(m.Content[:i], m.Content[i+2:]...)
			return true
		}
	}
	return false
}

// Get returns the node at dotted path, or nil, false if any segment is
// absent or not a mapping.
func (d *Document) Get(dotted string) (*yaml.Node, bool) {
	if dotted == "" {
		return d.root, true
	}
	cur := d.root
	for _, seg := range splitPath(dotted) {
		if cur.Kind != yaml.MappingNode {
			return nil, false
		}
		next := mappingGet(cur, seg)
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Set places value at dotted path, creating intermediate mapping nodes as
// needed. Returns an error if an intermediate segment exists but is not a
// mapping ("use dot notation" rejection surfaces one level up,
// in the typed setter).
func (d *Document) Set(dotted string, value *yaml.Node) error {
	segs := splitPath(dotted)
	cur := d.root
	for _, seg := range segs[:len(segs)-1] {
		next := mappingGet(cur, seg)
		if next == nil {
			next = newMapping()
			mappingSet(cur, seg, next)
		} else if next.Kind != yaml.MappingNode {
			return fmt.Errorf("cannot descend into non-object field %q", seg)
		}
		cur = next
	}
	mappingSet(cur, segs[len(segs)-1], value)
	return nil
}

// Unset removes the leaf at dotted path. Parent mappings that become empty
// are intentionally NOT pruned. Returns true if a leaf was removed.
func (d *Document) Unset(dotted string) bool {
	segs := splitPath(dotted)
	cur := d.root
	for _, seg := range segs[:len(segs)-1] {
		next := mappingGet(cur, seg)
		if next == nil || next.Kind != yaml.MappingNode {
			return false
		}
		cur = next
	}
	return mappingDelete(cur, segs[len(segs)-1])
}

// Scalar builders used by the typed setter (typed.go) and tests.
func ScalarString(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func ScalarInt(i int64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", i)}
}

func ScalarBool(b bool) *yaml.Node {
	v := "false"
	if b {
		v = "true"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: v}
}

func Sequence(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items}
}
