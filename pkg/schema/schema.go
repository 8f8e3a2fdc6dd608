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

// Package schema is the static, process-wide typed catalog: a dotted-path
// -> FieldType table that drives how untyped CLI input gets parsed into a
// YAML document. A fixed table of exact paths plus a short ordered list of
// glob patterns covers the dynamic field classes (ports.*, aliases.*,
// environment.*); the package-list arrays are exact entries.
package schema

import (
	"path"
	"strconv"
	"strings"
)

// ScalarKind distinguishes the three scalar leaf types.
type ScalarKind int

const (
	ScalarString ScalarKind = iota
	ScalarInteger
	ScalarBoolean
)

// Kind is the top-level shape of a schema entry.
type Kind int

const (
	KindUnknown Kind = iota
	KindScalar
	KindArray
	KindObject
)

// FieldType is what the catalog returns for a dotted path.
type FieldType struct {
	Kind   Kind
	Scalar ScalarKind // meaningful when Kind == KindScalar or the array's item type
}

var unknownType = FieldType{Kind: KindUnknown}

func scalar(k ScalarKind) FieldType { return FieldType{Kind: KindScalar, Scalar: k} }
func array(item ScalarKind) FieldType {
	return FieldType{Kind: KindArray, Scalar: item}
}

// Namespace selects which of the two schema tables (project vs. global
// config) a lookup is performed against.
type Namespace int

const (
	Project Namespace = iota
	Global
)

// projectExact holds the project namespace's fixed dotted paths with a known type.
var projectExact = map[string]FieldType{
	"provider":                   scalar(ScalarString),
	"project.name":               scalar(ScalarString),
	"project.hostname":           scalar(ScalarString),
	"project.workspace_path":     scalar(ScalarString),
	"project.backup_pattern":     scalar(ScalarString),
	"project.env_template_path":  scalar(ScalarString),
	"vm.box":                     {Kind: KindUnknown}, // polymorphic: string shorthand or a full mapping
	"vm.memory":                  scalar(ScalarInteger),
	"vm.cpus":                    scalar(ScalarInteger),
	"vm.user":                    scalar(ScalarString),
	"vm.timezone":                scalar(ScalarString),
	"vm.swap":                    scalar(ScalarInteger),
	"vm.swappiness":              scalar(ScalarInteger),
	"vm.gui":                     scalar(ScalarBoolean),
	"vm.port_binding":            scalar(ScalarString),
	"ports._range":               array(ScalarInteger),
	"apt_packages":               array(ScalarString),
	"npm_packages":               array(ScalarString),
	"pip_packages":               array(ScalarString),
	"cargo_packages":             array(ScalarString),
	"host_sync.git_config":       scalar(ScalarBoolean),
	"host_sync.ssh_agent":        scalar(ScalarBoolean),
	"host_sync.ssh_config":       scalar(ScalarBoolean),
	"host_sync.ai_tools":         scalar(ScalarBoolean),
	"host_sync.dotfiles":         array(ScalarString),
	"host_sync.worktrees.enabled":   scalar(ScalarBoolean),
	"host_sync.worktrees.base_path": scalar(ScalarString),
	"networking.networks":        array(ScalarString),
	"terminal.emoji":             scalar(ScalarBoolean),
	"terminal.username":          scalar(ScalarString),
	"terminal.theme":             scalar(ScalarString),
	"terminal.show_git_branch":   scalar(ScalarBoolean),
	"terminal.show_timestamp":    scalar(ScalarBoolean),
}

var globalExact = map[string]FieldType{
	"default_provider":             scalar(ScalarString),
	"vm.port_binding":               scalar(ScalarString),
	"services.docker_registry.port": scalar(ScalarInteger),
	"terminal.emoji":                scalar(ScalarBoolean),
	"terminal.theme":                scalar(ScalarString),
}

// globPatterns are matched, in order, after the exact table misses. Both
// namespaces share the dynamic classes.
type globEntry struct {
	pattern string
	typ     FieldType
}

var globPatterns = []globEntry{
	{"ports._range", array(ScalarInteger)}, // exact path, kept first so the glob below never shadows it
	{"ports.*", scalar(ScalarInteger)},
	{"aliases.*", scalar(ScalarString)},
	{"environment.*", scalar(ScalarString)},
	{"services.*.enabled", scalar(ScalarBoolean)},
	{"services.*.port", scalar(ScalarInteger)},
	{"services.*.version", scalar(ScalarString)},
	{"services.*.user", scalar(ScalarString)},
	{"services.*.password", scalar(ScalarString)},
	{"services.*.database", scalar(ScalarString)},
	{"services.*.*", scalar(ScalarString)}, // catch-all for other service fields
}

// Lookup returns the FieldType for a dotted path, or KindUnknown (meaning
// "YAML-parse first, fall back to string") if nothing
// matches.
func Lookup(ns Namespace, dottedPath string) FieldType {
	table := projectExact
	if ns == Global {
		table = globalExact
	}
	if t, ok := table[dottedPath]; ok {
		return t
	}
	for _, g := range globPatterns {
		if matchGlob(g.pattern, dottedPath) {
			return g.typ
		}
	}
	return unknownType
}

// matchGlob matches a dotted path against a pattern whose segments may be
// "*" (matches exactly one segment).
func matchGlob(pattern, p string) bool {
	pp := strings.Split(pattern, ".")
	pc := strings.Split(p, ".")
	if len(pp) != len(pc) {
		return false
	}
	for i := range pp {
		if pp[i] == "*" {
			continue
		}
		ok, err := path.Match(pp[i], pc[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// ParseBool implements permissive boolean parsing.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "on":
		return true, true
	case "false", "no", "0", "off":
		return false, true
	default:
		return false, false
	}
}

// ParseInt parses a scalar integer leaf.
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
