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

package tunnel

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func fakeDockerCommand(output string) func(name string, arg ...string) *exec.Cmd {
	return func(name string, arg ...string) *exec.Cmd {
		return exec.Command("echo", "-n", output)
	}
}

func TestParseHostContainerSpec(t *testing.T) {
	hp, cp, err := ParseHostContainerSpec("8080:80")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hp != 8080 || cp != 80 {
		t.Errorf("got %d:%d", hp, cp)
	}
	if _, _, err := ParseHostContainerSpec("notaport"); err == nil {
		t.Errorf("expected error for malformed spec")
	}
}

func newTestManager(t *testing.T, out string) *Manager {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "active.json"))
	m.NewCmd = fakeDockerCommand(out)
	m.sleep = func(time.Duration) {}
	return m
}

func TestCreateTunnelRejectsDuplicateHostPort(t *testing.T) {
	m := newTestManager(t, "true")
	ctx := context.Background()
	if _, err := m.CreateTunnel(ctx, 8080, 80, "web"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateTunnel(ctx, 8080, 81, "web2"); err == nil {
		t.Errorf("expected duplicate host port rejection")
	}
}

func TestListTunnelsReapsStoppedSidecars(t *testing.T) {
	m := newTestManager(t, "true")
	ctx := context.Background()
	if _, err := m.CreateTunnel(ctx, 9090, 90, "web"); err != nil {
		t.Fatalf("create: %v", err)
	}
	m.NewCmd = fakeDockerCommand("false")
	tunnels, err := m.ListTunnels(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tunnels) != 0 {
		t.Errorf("expected reaped list, got %v", tunnels)
	}
}

func TestListTunnelsFiltersBySubstring(t *testing.T) {
	m := newTestManager(t, "true")
	ctx := context.Background()
	if _, err := m.CreateTunnel(ctx, 9091, 91, "web-backend"); err != nil {
		t.Fatalf("create: %v", err)
	}
	tunnels, err := m.ListTunnels(ctx, "back")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tunnels) != 1 {
		t.Fatalf("expected substring match, got %v", tunnels)
	}
	if tunnels, err = m.ListTunnels(ctx, "frontend"); err != nil || len(tunnels) != 0 {
		t.Errorf("expected no match for unrelated filter, got %v err=%v", tunnels, err)
	}
}

func TestStopTunnelRemovesRecord(t *testing.T) {
	m := newTestManager(t, "true")
	ctx := context.Background()
	if _, err := m.CreateTunnel(ctx, 9092, 92, "db"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.StopTunnel(ctx, 9092); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.StopTunnel(ctx, 9092); err == nil {
		t.Errorf("expected not-found on second stop")
	}
}

func TestStopAllTunnelsRemovesMatchingRecords(t *testing.T) {
	m := newTestManager(t, "true")
	ctx := context.Background()
	if _, err := m.CreateTunnel(ctx, 9093, 93, "web"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateTunnel(ctx, 9094, 94, "db"); err != nil {
		t.Fatalf("create: %v", err)
	}
	failures, err := m.StopAllTunnels(ctx, "web")
	if err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("unexpected failures: %v", failures)
	}
	remaining, err := m.ListTunnels(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Container != "db" {
		t.Errorf("expected only db tunnel to remain, got %v", remaining)
	}
}
