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

package vmerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, 2},
		{KindNotFound, 3},
		{KindUnknown, 1},
		{KindProvider, 1},
		{KindSnapshot, 1},
	}
	for _, c := range cases {
		if got := c.kind.ExitCode(); got != c.want {
			t.Errorf("Kind(%d).ExitCode() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestErrorStringWithAndWithoutPath(t *testing.T) {
	e := New(KindConfig, "config.get", errors.New("boom"))
	if got, want := e.Error(), "config.get: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	e.WithPath("vm.memory")
	if got, want := e.Error(), "config.get: vm.memory: boom"; got != want {
		t.Errorf("Error() with path = %q, want %q", got, want)
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(KindFilesystem, "state.save", "/tmp/x", nil) != nil {
		t.Errorf("Wrap(nil) should return nil, not a non-nil *Error wrapping nil")
	}
}

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(KindNotFound, "state.load", errors.New("missing"))
	wrapped := fmt.Errorf("loading state: %w", base)
	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf(wrapped) = %v, want KindNotFound", got)
	}
}

func TestKindOfOnPlainErrorIsUnknown(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want KindUnknown", got)
	}
}

func TestUnwrapReturnsUnderlyingError(t *testing.T) {
	underlying := errors.New("disk full")
	e := New(KindFilesystem, "snapshot.create", underlying)
	if !errors.Is(e, underlying) {
		t.Errorf("errors.Is(e, underlying) = false, want true")
	}
}
