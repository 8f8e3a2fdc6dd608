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
	"testing"

	"github.com/vmctl/vm/pkg/schema"
)

func TestSetTypedScalarInteger(t *testing.T) {
	d := NewDocument()
	node, err := d.SetTyped(schema.Project, "vm.memory", []string{"4096"})
	if err != nil {
		t.Fatalf("SetTyped: %v", err)
	}
	if node.Value != "4096" {
		t.Errorf("node.Value = %q, want 4096", node.Value)
	}
}

func TestSetTypedScalarRejectsMultipleValues(t *testing.T) {
	d := NewDocument()
	if _, err := d.SetTyped(schema.Project, "vm.memory", []string{"1", "2"}); err == nil {
		t.Errorf("expected error setting a scalar field from two values")
	}
}

func TestSetTypedArray(t *testing.T) {
	d := NewDocument()
	node, err := d.SetTyped(schema.Project, "apt_packages", []string{"git", "curl"})
	if err != nil {
		t.Fatalf("SetTyped: %v", err)
	}
	if len(node.Content) != 2 || node.Content[0].Value != "git" || node.Content[1].Value != "curl" {
		t.Errorf("unexpected array content: %v", node.Content)
	}
}

func TestSetTypedUnknownKindWithMultipleValuesBuildsSequence(t *testing.T) {
	d := NewDocument()
	node, err := d.SetTyped(schema.Project, "vm.box", []string{"a", "b"})
	if err != nil {
		t.Fatalf("SetTyped: %v", err)
	}
	if len(node.Content) != 2 || node.Content[0].Value != "a" || node.Content[1].Value != "b" {
		t.Errorf("unexpected sequence content: %v", node.Content)
	}
}

func TestSetTypedUnknownKindParsesYAMLWhenPossible(t *testing.T) {
	d := NewDocument()
	node, err := d.SetTyped(schema.Project, "vm.box", []string{"42"})
	if err != nil {
		t.Fatalf("SetTyped: %v", err)
	}
	if node.Tag != "!!int" {
		t.Errorf("expected numeric literal to parse as !!int, got tag %q", node.Tag)
	}
}

func TestSetTypedUnknownKindFallsBackToString(t *testing.T) {
	d := NewDocument()
	node, err := d.SetTyped(schema.Project, "vm.box", []string{"ubuntu:22.04"})
	if err != nil {
		t.Fatalf("SetTyped: %v", err)
	}
	if node.Value != "ubuntu:22.04" {
		t.Errorf("node.Value = %q, want ubuntu:22.04", node.Value)
	}
}

func TestRenderYAML(t *testing.T) {
	out, err := RenderYAML(ScalarInt(4096))
	if err != nil {
		t.Fatalf("RenderYAML: %v", err)
	}
	if out != "4096\n" {
		t.Errorf("RenderYAML = %q, want %q", out, "4096\n")
	}
}
