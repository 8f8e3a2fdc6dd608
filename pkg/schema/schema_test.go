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

package schema

import "testing"

func TestLookupExactPaths(t *testing.T) {
	cases := []struct {
		path string
		kind Kind
	}{
		{"vm.memory", KindScalar},
		{"apt_packages", KindArray},
		{"host_sync.dotfiles", KindArray},
		{"vm.box", KindUnknown},
	}
	for _, c := range cases {
		got := Lookup(Project, c.path)
		if got.Kind != c.kind {
			t.Errorf("Lookup(%q).Kind = %v, want %v", c.path, got.Kind, c.kind)
		}
	}
}

func TestLookupDynamicClasses(t *testing.T) {
	cases := []struct {
		path string
		kind Kind
	}{
		{"ports.web", KindScalar},
		{"aliases.ll", KindScalar},
		{"environment.DEBUG", KindScalar},
		{"services.postgresql.enabled", KindScalar},
		{"services.postgresql.port", KindScalar},
	}
	for _, c := range cases {
		got := Lookup(Project, c.path)
		if got.Kind != c.kind {
			t.Errorf("Lookup(%q).Kind = %v, want %v", c.path, got.Kind, c.kind)
		}
	}
}

func TestLookupUnknownFallsBack(t *testing.T) {
	got := Lookup(Project, "totally.unknown.path")
	if got.Kind != KindUnknown {
		t.Errorf("Lookup(unknown).Kind = %v, want KindUnknown", got.Kind)
	}
}

func TestParseBoolPermissive(t *testing.T) {
	trueForms := []string{"true", "yes", "1", "on", "TRUE", "Yes"}
	for _, s := range trueForms {
		v, ok := ParseBool(s)
		if !ok || !v {
			t.Errorf("ParseBool(%q) = %v, %v; want true, true", s, v, ok)
		}
	}
	falseForms := []string{"false", "no", "0", "off"}
	for _, s := range falseForms {
		v, ok := ParseBool(s)
		if !ok || v {
			t.Errorf("ParseBool(%q) = %v, %v; want false, true", s, v, ok)
		}
	}
	if _, ok := ParseBool("maybe"); ok {
		t.Errorf("ParseBool(maybe) should not parse")
	}
}

func TestGlobalNamespaceIsIndependent(t *testing.T) {
	if Lookup(Global, "default_provider").Kind != KindScalar {
		t.Errorf("expected default_provider to resolve in global namespace")
	}
	if Lookup(Project, "default_provider").Kind != KindUnknown {
		t.Errorf("expected default_provider to be unknown in project namespace")
	}
}
