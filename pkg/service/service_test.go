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

package service

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeRunner records Start/Stop calls and fails to "start" any service
// listed in failOn, simulating the warn-don't-fail contract.
type fakeRunner struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	failOn   map[string]bool
	listener *net.TCPListener
}

func (f *fakeRunner) StartService(ctx context.Context, name string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	if f.failOn[name] {
		return errString("boom")
	}
	return nil
}

func (f *fakeRunner) StopService(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

func TestRegisterVMServicesStartsOnZeroToOneTransition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_state.json")
	runner := &fakeRunner{}
	mgr := NewManager(path, runner)

	// Use a TCP port we control so the health probe succeeds quickly.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	warnings, err := mgr.RegisterVMServices(context.Background(), "vm-a", []EnabledService{{Name: "redis", Port: port}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(runner.started) != 1 || runner.started[0] != "redis" {
		t.Errorf("expected redis to be started once, got %v", runner.started)
	}

	status, err := mgr.GetServiceStatus("redis")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.RefCount != 1 || !status.IsRunning {
		t.Errorf("expected ref_count=1 running=true, got %+v", status)
	}

	// A second VM registering does not start it again.
	if _, err := mgr.RegisterVMServices(context.Background(), "vm-b", []EnabledService{{Name: "redis", Port: port}}); err != nil {
		t.Fatalf("second register: %v", err)
	}
	status, _ = mgr.GetServiceStatus("redis")
	if status.RefCount != 2 {
		t.Errorf("expected ref_count=2, got %d", status.RefCount)
	}
	if len(runner.started) != 1 {
		t.Errorf("expected no second start, got %v", runner.started)
	}
}

func TestRegisterVMServicesStartFailureIsWarningNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_state.json")
	runner := &fakeRunner{failOn: map[string]bool{"redis": true}}
	mgr := NewManager(path, runner)

	warnings, err := mgr.RegisterVMServices(context.Background(), "vm-a", []EnabledService{{Name: "redis", Port: 1}})
	if err != nil {
		t.Fatalf("register should not fail VM creation: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "redis") {
		t.Errorf("expected a warning mentioning redis, got %v", warnings)
	}
}

func TestUnregisterStopsOnZeroRefCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_state.json")
	runner := &fakeRunner{}
	mgr := NewManager(path, runner)

	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	_, _ = mgr.RegisterVMServices(context.Background(), "vm-a", []EnabledService{{Name: "redis", Port: port}})
	if err := mgr.UnregisterVMServices(context.Background(), "vm-a"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if len(runner.stopped) != 1 {
		t.Errorf("expected stop to be called once, got %v", runner.stopped)
	}
	status, _ := mgr.GetServiceStatus("redis")
	if status.IsRunning {
		t.Errorf("expected service to be marked stopped")
	}
}

func TestGetServiceStatusNotFound(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "service_state.json"), &fakeRunner{})
	if _, err := mgr.GetServiceStatus("nope"); err == nil {
		t.Errorf("expected not-found error")
	}
}

func TestHTTPHealthProbeKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := httpProbe(context.Background(), srv.URL+"/health"); err != nil {
		t.Errorf("expected healthy probe, got %v", err)
	}
}
