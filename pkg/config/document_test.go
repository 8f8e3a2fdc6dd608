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

import "testing"

func TestParseEmptyYieldsEmptyDocument(t *testing.T) {
	d, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if _, ok := d.Get(""); !ok {
		t.Errorf("root should always be present")
	}
	if _, ok := d.Get("vm.memory"); ok {
		t.Errorf("empty document should have no vm.memory")
	}
}

func TestParseRejectsNonMappingTop(t *testing.T) {
	if _, err := Parse([]byte("- one\n- two\n")); err == nil {
		t.Errorf("expected error for sequence at top level")
	}
}

func TestGetSetNested(t *testing.T) {
	d := NewDocument()
	if err := d.Set("vm.memory", ScalarInt(4096)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	node, ok := d.Get("vm.memory")
	if !ok || node.Value != "4096" {
		t.Errorf("Get(vm.memory) = %v, ok=%v, want 4096", node, ok)
	}
}

func TestSetPreservesInsertionOrder(t *testing.T) {
	d := NewDocument()
	_ = d.Set("zebra", ScalarString("z"))
	_ = d.Set("apple", ScalarString("a"))
	root := d.Root()
	if root.Content[0].Value != "zebra" || root.Content[2].Value != "apple" {
		t.Errorf("expected insertion order preserved, got %q then %q", root.Content[0].Value, root.Content[2].Value)
	}
}

func TestSetRejectsDescentIntoScalar(t *testing.T) {
	d := NewDocument()
	if err := d.Set("vm", ScalarString("not an object")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := d.Set("vm.memory", ScalarInt(1)); err == nil {
		t.Errorf("expected error descending into a scalar field")
	}
}

func TestUnsetDoesNotPruneEmptyParents(t *testing.T) {
	d := NewDocument()
	_ = d.Set("vm.memory", ScalarInt(2048))
	if ok := d.Unset("vm.memory"); !ok {
		t.Fatalf("Unset reported no leaf removed")
	}
	node, ok := d.Get("vm")
	if !ok || node.Kind.String() == "" {
		t.Errorf("expected vm mapping to survive, got %v, ok=%v", node, ok)
	}
	if _, ok := d.Get("vm.memory"); ok {
		t.Errorf("vm.memory should be gone")
	}
}

func TestUnsetMissingReturnsFalse(t *testing.T) {
	d := NewDocument()
	if ok := d.Unset("nope.nothere"); ok {
		t.Errorf("expected false for a path that was never set")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d := NewDocument()
	_ = d.Set("vm.memory", ScalarInt(1024))
	clone := d.Clone()
	_ = clone.Set("vm.memory", ScalarInt(2048))

	orig, _ := d.Get("vm.memory")
	cloned, _ := clone.Get("vm.memory")
	if orig.Value != "1024" {
		t.Errorf("original mutated by clone edit: got %q", orig.Value)
	}
	if cloned.Value != "2048" {
		t.Errorf("clone.Value = %q, want 2048", cloned.Value)
	}
}

func TestRoundTripBytes(t *testing.T) {
	d := NewDocument()
	_ = d.Set("project.name", ScalarString("demo"))
	_ = d.Set("vm.memory", ScalarInt(4096))

	b, err := d.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	reparsed, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse round trip: %v", err)
	}
	node, ok := reparsed.Get("project.name")
	if !ok || node.Value != "demo" {
		t.Errorf("round trip lost project.name: %v, ok=%v", node, ok)
	}
}

func TestSplitPathIgnoresDotsInsideBrackets(t *testing.T) {
	parts := splitPath("apt_packages[0].name")
	want := []string{"apt_packages[0]", "name"}
	if len(parts) != len(want) || parts[0] != want[0] || parts[1] != want[1] {
		t.Errorf("splitPath = %v, want %v", parts, want)
	}
}
