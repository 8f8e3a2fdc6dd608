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

// Package tunnel manages localhost:host_port -> container:container_port TCP
// relays implemented as detached alpine/socat sidecar containers sharing
// the target container's network namespace.
package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/vmctl/vm/pkg/lockfile"
	"github.com/vmctl/vm/pkg/vmerr"
)

// Info is one active tunnel's persisted record.
type Info struct {
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Container     string `json:"container"`
	Sidecar       string `json:"sidecar"`
	CreatedAt     time.Time `json:"created_at"`
}

type document struct {
	Tunnels map[string]*Info `json:"tunnels"` // keyed by host_port as a string
}

// sidecarName follows naming contract, chosen so the registry
// is regenerable from docker state if active.json is lost.
func sidecarName(container string, hostPort int) string {
	return fmt.Sprintf("vm-port-forward-%s-%d", container, hostPort)
}

// Manager persists active.json under its own lock and shells docker to
// create/inspect/stop sidecar containers.
type Manager struct {
	path   string
	NewCmd func(name string, arg ...string) *exec.Cmd
	sleep  func(time.Duration)
}

func NewManager(statePath string) *Manager {
	return &Manager{path: statePath, NewCmd: exec.Command, sleep: time.Sleep}
}

func (m *Manager) lockPath() string { return m.path + ".lock" }

func (m *Manager) load() (*document, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Tunnels: map[string]*Info{}}, nil
		}
		return nil, vmerr.Wrap(vmerr.KindFilesystem, "tunnel.load", m.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, vmerr.Wrap(vmerr.KindFilesystem, "tunnel.load", m.path, err)
	}
	if doc.Tunnels == nil {
		doc.Tunnels = map[string]*Info{}
	}
	return &doc, nil
}

func (m *Manager) save(doc *document) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "tunnel.save", m.path, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "tunnel.save", m.path, err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "tunnel.save", m.path, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "tunnel.save", m.path, err)
	}
	return nil
}

func (m *Manager) docker(ctx context.Context, op string, args ...string) (string, error) {
	cmd := m.NewCmd("docker", args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", vmerr.Wrap(vmerr.KindProvider, op, strings.Join(args, " "), fmt.Errorf("%w: %s", err, errOut.String()))
	}
	return out.String(), nil
}

// ParseHostContainerSpec validates a "HOST:CONTAINER" port pair, as used by
// `port forward`/`port stop` before any container or sidecar is touched.
func ParseHostContainerSpec(spec string) (hostPort, containerPort int, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return 0, 0, vmerr.New(vmerr.KindValidation, "tunnel.parse_spec", fmt.Errorf("expected HOST:CONTAINER, got %q", spec))
	}
	hp, _, err := nat.ParsePortRange(parts[0])
	if err != nil {
		return 0, 0, vmerr.New(vmerr.KindValidation, "tunnel.parse_spec", fmt.Errorf("invalid host port %q: %w", parts[0], err))
	}
	cp, _, err := nat.ParsePortRange(parts[1])
	if err != nil {
		return 0, 0, vmerr.New(vmerr.KindValidation, "tunnel.parse_spec", fmt.Errorf("invalid container port %q: %w", parts[1], err))
	}
	return int(hp), int(cp), nil
}

// CreateTunnel launches the socat sidecar and records the tunnel, rejecting
// a duplicate host_port outright.
func (m *Manager) CreateTunnel(ctx context.Context, hostPort, containerPort int, container string) (*Info, error) {
	var info *Info
	err := lockfile.WithLock(m.lockPath(), func() error {
		doc, err := m.load()
		if err != nil {
			return err
		}
		key := strconv.Itoa(hostPort)
		if _, exists := doc.Tunnels[key]; exists {
			return vmerr.New(vmerr.KindValidation, "tunnel.create", fmt.Errorf("host port %d already has an active tunnel", hostPort))
		}

		sidecar := sidecarName(container, hostPort)
		socatCmd := fmt.Sprintf("tcp-listen:%d,fork,reuseaddr tcp-connect:localhost:%d", hostPort, containerPort)
		args := []string{"run", "-d", "--rm",
			"--name", sidecar,
			"--network=container:" + container,
			"-p", fmt.Sprintf("%d:%d", hostPort, hostPort),
			"alpine/socat", "socat", strings.Fields(socatCmd)[0], strings.Fields(socatCmd)[1]}
		if _, err := m.docker(ctx, "tunnel.create", args...); err != nil {
			return err
		}

		// Let the sidecar settle before trusting it as started, per
		// ">= 500ms settle" rule.
		m.sleep(500 * time.Millisecond)

		running, err := m.isSidecarRunning(ctx, sidecar)
		if err != nil || !running {
			return vmerr.New(vmerr.KindProvider, "tunnel.create", fmt.Errorf("sidecar %q did not start", sidecar))
		}

		info = &Info{HostPort: hostPort, ContainerPort: containerPort, Container: container, Sidecar: sidecar, CreatedAt: time.Now().UTC()}
		doc.Tunnels[key] = info
		return m.save(doc)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (m *Manager) isSidecarRunning(ctx context.Context, sidecar string) (bool, error) {
	out, err := m.docker(ctx, "tunnel.inspect", "inspect", "-f", "{{.State.Running}}", sidecar)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

// ListTunnels lazily reaps records whose sidecar is no longer running, then
// returns the survivors, optionally filtered by container name substring
// (the documented possibly-accidental substring-match contract shared with
// stop_all_tunnels — preserved exactly, not "fixed").
func (m *Manager) ListTunnels(ctx context.Context, containerFilter string) ([]*Info, error) {
	var result []*Info
	err := lockfile.WithLock(m.lockPath(), func() error {
		doc, err := m.load()
		if err != nil {
			return err
		}
		changed := false
		for key, info := range doc.Tunnels {
			running, _ := m.isSidecarRunning(ctx, info.Sidecar)
			if !running {
				delete(doc.Tunnels, key)
				changed = true
				continue
			}
			if containerFilter == "" || strings.Contains(info.Container, containerFilter) {
				result = append(result, info)
			}
		}
		if changed {
			return m.save(doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StopTunnel stops the sidecar for hostPort and removes its record
// regardless of whether the stop succeeds.
func (m *Manager) StopTunnel(ctx context.Context, hostPort int) error {
	return lockfile.WithLock(m.lockPath(), func() error {
		doc, err := m.load()
		if err != nil {
			return err
		}
		key := strconv.Itoa(hostPort)
		info, ok := doc.Tunnels[key]
		if !ok {
			return vmerr.New(vmerr.KindNotFound, "tunnel.stop", fmt.Errorf("no active tunnel on host port %d", hostPort))
		}
		_, stopErr := m.docker(ctx, "tunnel.stop", "stop", info.Sidecar)
		delete(doc.Tunnels, key)
		if err := m.save(doc); err != nil {
			return err
		}
		return stopErr
	})
}

// StopAllTunnels bulk-stops every tunnel matching containerFilter (same
// substring semantics as ListTunnels). Stop failures are logged by the
// caller via the returned slice but the record is removed regardless.
func (m *Manager) StopAllTunnels(ctx context.Context, containerFilter string) (failures []error, err error) {
	err = lockfile.WithLock(m.lockPath(), func() error {
		doc, err := m.load()
		if err != nil {
			return err
		}
		for key, info := range doc.Tunnels {
			if containerFilter != "" && !strings.Contains(info.Container, containerFilter) {
				continue
			}
			if _, stopErr := m.docker(ctx, "tunnel.stop_all", "stop", info.Sidecar); stopErr != nil {
				failures = append(failures, fmt.Errorf("stop %s: %w", info.Sidecar, stopErr))
			}
			delete(doc.Tunnels, key)
		}
		return m.save(doc)
	})
	return failures, err
}
