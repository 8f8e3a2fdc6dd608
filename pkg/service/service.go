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

// Package service implements the shared-service manager:
// reference-counted lifecycle for services like postgresql or redis that
// several VMs share rather than each running their own copy.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/vmctl/vm/pkg/lockfile"
	"github.com/vmctl/vm/pkg/vmerr"
)

// DefaultPorts is the known-service default port table.
var DefaultPorts = map[string]int{
	"postgresql":       5432,
	"redis":            6379,
	"mongodb":          27017,
	"mysql":            3306,
	"docker_registry":  5000,
	"auth_proxy":       3090,
	"package_registry": 3080,
}

// probeKind distinguishes the health-check strategy per service.
type probeKind int

const (
	probeTCP probeKind = iota
	probeHTTPHealth
	probeHTTPDockerV2
)

var probeKinds = map[string]probeKind{
	"auth_proxy":       probeHTTPHealth,
	"package_registry": probeHTTPHealth,
	"docker_registry":  probeHTTPDockerV2,
}

func probeKindFor(name string) probeKind {
	if k, ok := probeKinds[name]; ok {
		return k
	}
	return probeTCP
}

// State is one service's persisted row.
type State struct {
	Name          string   `json:"name"`
	Port          int      `json:"port"`
	RegisteredVMs []string `json:"registered_vms"`
	RefCount      int      `json:"ref_count"`
	IsRunning     bool     `json:"is_running"`
}

func (s *State) hasVM(vmName string) bool {
	for _, v := range s.RegisteredVMs {
		if v == vmName {
			return true
		}
	}
	return false
}

// document is service_state.json's on-disk shape.
type document struct {
	Services map[string]*State `json:"services"`
}

// Runner is the subset of container-runtime behaviour the manager needs to
// start/stop/probe a shared service; implemented in pkg/cli by an adapter
// over the docker provider and stubbed in tests.
type Runner interface {
	StartService(ctx context.Context, name string, port int) error
	StopService(ctx context.Context, name string) error
}

// Manager implements operations. One Manager per process;
// concurrent callers within the process serialize on mu, concurrent
// processes serialize on the state file's lock.
type Manager struct {
	mu     sync.Mutex
	path   string
	runner Runner
	now    func() time.Time
}

func NewManager(statePath string, runner Runner) *Manager {
	return &Manager{path: statePath, runner: runner, now: time.Now}
}

func (m *Manager) load() (*document, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Services: map[string]*State{}}, nil
		}
		return nil, vmerr.Wrap(vmerr.KindState, "service.load", m.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, vmerr.Wrap(vmerr.KindState, "service.load", m.path, err)
	}
	if doc.Services == nil {
		doc.Services = map[string]*State{}
	}
	return &doc, nil
}

func (m *Manager) save(doc *document) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "service.save", m.path, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return vmerr.Wrap(vmerr.KindState, "service.save", m.path, err)
	}
	tmp, err := os.CreateTemp(dir, ".service-state-*.tmp")
	if err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "service.save", m.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return vmerr.Wrap(vmerr.KindFilesystem, "service.save", m.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return vmerr.Wrap(vmerr.KindFilesystem, "service.save", m.path, err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return vmerr.Wrap(vmerr.KindFilesystem, "service.save", m.path, err)
	}
	return nil
}

// EnabledService describes one `services.<name>` block of the effective
// config that resolved enabled=true.
type EnabledService struct {
	Name    string
	Port    int    // 0 means "use DefaultPorts"
	Version string // optional semver constraint, e.g. "^15"
}

func (e EnabledService) resolvedPort() int {
	if e.Port != 0 {
		return e.Port
	}
	return DefaultPorts[e.Name]
}

// RegisterVMServices implements register_vm_services: for each enabled
// service, add vmName if absent and start the service on a 0->1 ref-count
// transition. Service start failure is logged by the caller via the
// returned warnings slice; it never aborts VM creation.
func (m *Manager) RegisterVMServices(ctx context.Context, vmName string, enabled []EnabledService) (warnings []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	err = lockfile.WithLock(m.path+".lock", func() error {
		doc, lerr := m.load()
		if lerr != nil {
			return lerr
		}
		for _, e := range enabled {
			st, ok := doc.Services[e.Name]
			if !ok {
				st = &State{Name: e.Name, Port: e.resolvedPort()}
				doc.Services[e.Name] = st
			}
			if st.hasVM(vmName) {
				continue
			}
			st.RegisteredVMs = append(st.RegisteredVMs, vmName)
			wasZero := st.RefCount == 0
			st.RefCount++
			if wasZero && !st.IsRunning {
				if startErr := m.runner.StartService(ctx, e.Name, st.Port); startErr != nil {
					warnings = append(warnings, fmt.Sprintf("service %q failed to start: %v", e.Name, startErr))
					continue
				}
				if probeErr := m.probe(ctx, e.Name, st.Port); probeErr != nil {
					warnings = append(warnings, fmt.Sprintf("service %q did not become healthy: %v", e.Name, probeErr))
					continue
				}
				st.IsRunning = true
				if e.Version != "" {
					if w := m.checkVersionConstraint(ctx, e.Name, st.Port, e.Version); w != "" {
						warnings = append(warnings, w)
					}
				}
			}
		}
		return m.save(doc)
	})
	return warnings, err
}

// UnregisterVMServices implements unregister_vm_services.
func (m *Manager) UnregisterVMServices(ctx context.Context, vmName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return lockfile.WithLock(m.path+".lock", func() error {
		doc, err := m.load()
		if err != nil {
			return err
		}
		for _, st := range doc.Services {
			if !st.hasVM(vmName) {
				continue
			}
			st.RegisteredVMs = removeString(st.RegisteredVMs, vmName)
			if st.RefCount > 0 {
				st.RefCount--
			}
			if st.RefCount == 0 && st.IsRunning {
				if err := m.runner.StopService(ctx, st.Name); err != nil {
					return vmerr.Wrap(vmerr.KindService, "service.stop", st.Name, err)
				}
				st.IsRunning = false
			}
		}
		return m.save(doc)
	})
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// EnsureServiceRunning implements ensure_service_running.
func (m *Manager) EnsureServiceRunning(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return lockfile.WithLock(m.path+".lock", func() error {
		doc, err := m.load()
		if err != nil {
			return err
		}
		st, ok := doc.Services[name]
		if !ok {
			st = &State{Name: name, Port: DefaultPorts[name]}
			doc.Services[name] = st
		}
		if !st.IsRunning {
			if m.probe(ctx, name, st.Port) == nil {
				st.IsRunning = true
			} else {
				if err := m.runner.StartService(ctx, name, st.Port); err != nil {
					return vmerr.Wrap(vmerr.KindService, "service.start", name, err)
				}
				if err := m.probe(ctx, name, st.Port); err != nil {
					return vmerr.Wrap(vmerr.KindService, "service.probe", name, err)
				}
				st.IsRunning = true
			}
		}
		return m.save(doc)
	})
}

// GetServiceStatus implements get_service_status.
func (m *Manager) GetServiceStatus(name string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	st, ok := doc.Services[name]
	if !ok {
		return nil, vmerr.New(vmerr.KindNotFound, "service.status", fmt.Errorf("service %q is not registered", name))
	}
	return st, nil
}

// GetAllServiceStatuses implements get_all_service_statuses.
func (m *Manager) GetAllServiceStatuses() (map[string]*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	return doc.Services, nil
}

// probe retries a health check ~5 times with ~1s spacing.
func (m *Manager) probe(ctx context.Context, name string, port int) error {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		if err := m.probeOnce(ctx, name, port); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("health probe failed after 5 attempts: %w", lastErr)
}

func (m *Manager) probeOnce(ctx context.Context, name string, port int) error {
	switch probeKindFor(name) {
	case probeHTTPHealth:
		return httpProbe(ctx, fmt.Sprintf("http://127.0.0.1:%d/health", port))
	case probeHTTPDockerV2:
		return httpProbe(ctx, fmt.Sprintf("http://127.0.0.1:%d/v2/", port))
	default:
		return tcpProbe(ctx, port)
	}
}

func httpProbe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func tcpProbe(ctx context.Context, port int) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	return conn.Close()
}

// checkVersionConstraint compares a service's reported version against a
// config-specified semver constraint. A mismatch is logged as a warning,
// never a hard failure: a service startup problem should not fail VM
// creation outright. Only HTTP-probed services (auth proxy, package
// registry, docker registry) are checked, by reading the "version" field of
// GET /version; databases are not probed for version since that would
// require parsing their wire protocol.
func (m *Manager) checkVersionConstraint(ctx context.Context, name string, port int, constraint string) string {
	if probeKindFor(name) == probeTCP {
		return ""
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Sprintf("service %q: invalid version constraint %q: %v", name, constraint, err)
	}
	reported, err := fetchReportedVersion(ctx, name, port)
	if err != nil || reported == "" {
		return ""
	}
	v, err := semver.NewVersion(reported)
	if err != nil {
		return ""
	}
	if !c.Check(v) {
		return fmt.Sprintf("service %q reports version %s, which does not satisfy constraint %q", name, reported, constraint)
	}
	return ""
}

func fetchReportedVersion(ctx context.Context, name string, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/version", port), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Version, nil
}
