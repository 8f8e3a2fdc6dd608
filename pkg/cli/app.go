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

// Package cli builds the `vm` command tree and wires every library package
// (config, preset, effective, port, service, state, snapshot, tunnel,
// provider) behind a single App.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vmctl/vm/pkg/config"
	"github.com/vmctl/vm/pkg/effective"
	"github.com/vmctl/vm/pkg/paths"
	"github.com/vmctl/vm/pkg/port"
	"github.com/vmctl/vm/pkg/preset"
	"github.com/vmctl/vm/pkg/provider"
	"github.com/vmctl/vm/pkg/provider/docker"
	"github.com/vmctl/vm/pkg/provider/tart"
	"github.com/vmctl/vm/pkg/service"
	"github.com/vmctl/vm/pkg/snapshot"
	"github.com/vmctl/vm/pkg/state"
	"github.com/vmctl/vm/pkg/tunnel"
	"github.com/vmctl/vm/pkg/vmerr"
)

// App bundles every component the CLI dispatches into. One App is
// constructed per process in cmd/vm/main.go.
type App struct {
	Paths        *paths.Paths
	ConfigStore  *config.Store
	Presets      *preset.Store
	Services     *service.Manager
	TempState    *state.Manager
	Snapshots    *snapshot.Engine
	Tunnels      *tunnel.Manager
	DockerRT     *docker.Runtime
	TartRT       *tart.Runtime

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	NoPrompt bool
}

// serviceRunner adapts the docker runtime to service.Runner so the service
// manager can start/stop backing services as plain containers.
type serviceRunner struct{ rt *docker.Runtime }

func (r serviceRunner) StartService(ctx context.Context, name string, hostPort int) error {
	return r.rt.Create(ctx, provider.CreateSpec{
		Name:  "vm-service-" + name,
		Image: serviceImages[name],
		Ports: map[int]int{hostPort: hostPort},
	})
}

func (r serviceRunner) StopService(ctx context.Context, name string) error {
	return r.rt.Destroy(ctx, "vm-service-"+name)
}

var serviceImages = map[string]string{
	"postgresql":       "postgres:16",
	"redis":            "redis:7",
	"mongodb":          "mongo:7",
	"mysql":            "mysql:8",
	"docker_registry":  "registry:2",
	"auth_proxy":       "vm-auth-proxy:latest",
	"package_registry": "vm-package-registry:latest",
}

// NewApp wires every component from a resolved Paths, the way main.go will
// call it once at startup.
func NewApp(p *paths.Paths) *App {
	dockerRT := docker.New()
	a := &App{
		Paths:       p,
		ConfigStore: config.NewStore(p),
		Presets:     preset.NewStore(p.PluginsDir(), p.PresetsDir()),
		TempState:   state.NewManager(p.TempVMStateFile(), p.TempVMLockFile()),
		Snapshots:   snapshot.NewEngine(p.SnapshotsRoot()),
		Tunnels:     tunnel.NewManager(p.TunnelsFile()),
		DockerRT:    dockerRT,
		TartRT:      tart.New(os.Getenv("USER"), os.Getenv("VM_TART_SSH_KEY")),
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		NoPrompt:    os.Getenv("VM_NO_PROMPT") != "" || os.Getenv("VM_TEST_MODE") != "",
	}
	a.Services = service.NewManager(p.ServiceStateFile(), serviceRunner{rt: dockerRT})
	return a
}

// vmDocConfig is the minimal shape the CLI needs out of an effective
// config document to drive provider/service wiring.
type vmDocConfig struct {
	VM struct {
		Image    string `yaml:"image"`
		Provider string `yaml:"provider"`
		Memory   int    `yaml:"memory"`
		CPUs     int    `yaml:"cpus"`
	} `yaml:"vm"`
	Services map[string]struct {
		Enabled bool   `yaml:"enabled"`
		Port    int    `yaml:"port"`
		Version string `yaml:"version"`
	} `yaml:"services"`
	Ports struct {
		Range string `yaml:"range"`
	} `yaml:"ports"`
}

func decodeVMConfig(doc *config.Document) (*vmDocConfig, error) {
	var cfg vmDocConfig
	if err := doc.Root().Decode(&cfg); err != nil {
		return nil, vmerr.New(vmerr.KindConfig, "config.decode", err)
	}
	return &cfg, nil
}

// enabledServices extracts the services the effective config turned on.
func (c *vmDocConfig) enabledServices() []service.EnabledService {
	var out []service.EnabledService
	for name, svc := range c.Services {
		if svc.Enabled {
			out = append(out, service.EnabledService{Name: name, Port: svc.Port, Version: svc.Version})
		}
	}
	return out
}

// runtimeFor resolves which provider.Runtime backs a given config.
func (a *App) runtimeFor(cfg *vmDocConfig) provider.Runtime {
	if cfg.VM.Provider == "tart" {
		return a.TartRT
	}
	return a.DockerRT
}

// loadEffective is the shared entrypoint for every persistent-VM command:
// load config -> resolve presets/detection -> decode.
func (a *App) loadEffective(projectDir string, noPreset bool, presetNames []string) (*config.Document, *vmDocConfig, error) {
	doc, _, err := effective.Load(a.ConfigStore, a.Presets, effective.Options{
		ProjectDir:  projectDir,
		NoPreset:    noPreset,
		PresetNames: presetNames,
	})
	if err != nil {
		return nil, nil, err
	}
	cfg, err := decodeVMConfig(doc)
	if err != nil {
		return nil, nil, err
	}
	return doc, cfg, nil
}

// reservePorts resolves or allocates the host port range a VM's services
// should use, per C7's lowest-free-range suggestion.
func (a *App) reservePorts(name string, rangeSpec string) (port.Range, error) {
	reg, err := port.Load(a.Paths.PortRegistryFile())
	if err != nil {
		return port.Range{}, err
	}
	if existing, ok := reg.Get(name); ok {
		return existing, nil
	}
	var rng port.Range
	if rangeSpec != "" {
		rng, err = port.ParseRange(rangeSpec)
		if err != nil {
			return port.Range{}, err
		}
	} else {
		rng, err = reg.SuggestNextRange(8000, 9000, 10)
		if err != nil {
			return port.Range{}, err
		}
	}
	if err := reg.RegisterRange(name, rng); err != nil {
		return port.Range{}, err
	}
	if err := reg.Save(); err != nil {
		return port.Range{}, err
	}
	return rng, nil
}

// confirm applies the destructive-op confirmation rule: skipped
// when --yes/--force is set, VM_NO_PROMPT is set, or in test mode.
// Otherwise it prompts on Stderr and reads a single y/N answer from Stdin;
// anything but "y" (including no answer at all) counts as "no".
func (a *App) confirm(msg string, assumeYes bool) (bool, error) {
	if assumeYes || a.NoPrompt {
		return true, nil
	}
	fmt.Fprintf(a.Stderr, "%s [y/N]: ", msg)
	var reply string
	if _, err := fmt.Fscanln(a.Stdin, &reply); err != nil && err != io.EOF && err.Error() != "unexpected newline" {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	return strings.ToLower(reply) == "y", nil
}

var nonContainerChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// containerNameFor derives a stable container name from a project
// directory, prefixing it so every VM-managed resource is recognizable.
func containerNameFor(projectDir string) string {
	base := strings.ToLower(filepath.Base(projectDir))
	base = nonContainerChars.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "project"
	}
	return "vm-" + base
}

func printYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
