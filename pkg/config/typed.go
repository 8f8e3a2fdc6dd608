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

	"gopkg.in/yaml.v3"

	"github.com/vmctl/vm/pkg/schema"
)

// SetTyped applies decision table: given the schema type of
// dotted and the raw CLI values, build the right yaml.Node and place it.
func (d *Document) SetTyped(ns schema.Namespace, dotted string, values []string) (*yaml.Node, error) {
	ft := schema.Lookup(ns, dotted)
	switch ft.Kind {
	case schema.KindArray:
		items := make([]*yaml.Node, len(values))
		for i, v := range values {
			n, err := scalarFor(ft.Scalar, v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", dotted, err)
			}
			items[i] = n
		}
		node := Sequence(items...)
		if err := d.Set(dotted, node); err != nil {
			return nil, err
		}
		return node, nil

	case schema.KindScalar:
		if len(values) != 1 {
			return nil, fmt.Errorf("field %q expects a single value, got %d", dotted, len(values))
		}
		n, err := scalarFor(ft.Scalar, values[0])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", dotted, err)
		}
		if err := d.Set(dotted, n); err != nil {
			return nil, err
		}
		return n, nil

	case schema.KindObject:
		if len(values) != 1 {
			return nil, fmt.Errorf("field %q is an object; use dot notation to set individual sub-fields", dotted)
		}
		parsed, err := Parse([]byte(values[0]))
		if err != nil {
			return nil, fmt.Errorf("field %q is an object; use dot notation to set individual sub-fields (%w)", dotted, err)
		}
		if err := d.Set(dotted, parsed.root); err != nil {
			return nil, err
		}
		return parsed.root, nil

	default: // KindUnknown: YAML-parse first, fall back to string
		if len(values) != 1 {
			node := Sequence(stringsToScalars(values)...)
			if err := d.Set(dotted, node); err != nil {
				return nil, err
			}
			return node, nil
		}
		var probe yaml.Node
		if err := yaml.Unmarshal([]byte(values[0]), &probe); err == nil && probe.Kind != 0 {
			node := unwrapDocument(&probe)
			if err := d.Set(dotted, node); err != nil {
				return nil, err
			}
			return node, nil
		}
		n := ScalarString(values[0])
		if err := d.Set(dotted, n); err != nil {
			return nil, err
		}
		return n, nil
	}
}

func unwrapDocument(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		return n.Content[0]
	}
	return n
}

func stringsToScalars(values []string) []*yaml.Node {
	items := make([]*yaml.Node, len(values))
	for i, v := range values {
		items[i] = ScalarString(v)
	}
	return items
}

func scalarFor(kind schema.ScalarKind, raw string) (*yaml.Node, error) {
	switch kind {
	case schema.ScalarInteger:
		v, err := schema.ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", raw)
		}
		return ScalarInt(v), nil
	case schema.ScalarBoolean:
		v, ok := schema.ParseBool(raw)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %q", raw)
		}
		return ScalarBool(v), nil
	default:
		return ScalarString(raw), nil
	}
}

// RenderYAML renders a single node back to a YAML scalar/sequence string,
// the form `config get` prints to stdout.
func RenderYAML(n *yaml.Node) (string, error) {
	out, err := yaml.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
