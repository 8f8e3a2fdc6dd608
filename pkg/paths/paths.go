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

// Package paths resolves the platform-correct absolute paths every other
// component is handed as input. Nothing outside this package
// should hard-code a path under the user's home directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	homedir "github.com/mitchellh/go-homedir"
)

// Paths bundles every resolved location. Constructed once in main and
// threaded down to the components that need it.
type Paths struct {
	ConfigDir string // user config dir, e.g. ~/.config or %APPDATA%
	DataDir   string // user data dir, e.g. ~/.local/share
	BinDir    string // user bin dir, e.g. ~/.local/bin
	CacheDir  string // user cache dir
	StateDir  string // ~/.vm on Unix, %USERPROFILE%\.vm on Windows
}

// Resolve computes every path. toolDir, when non-empty (from VM_TOOL_DIR),
// overrides every directory below a single root — used by the test suite to
// get full isolation without touching the real home directory.
func Resolve(toolDir string) (*Paths, error) {
	if toolDir != "" {
		return &Paths{
			ConfigDir: filepath.Join(toolDir, "config"),
			DataDir:   filepath.Join(toolDir, "data"),
			BinDir:    filepath.Join(toolDir, "bin"),
			CacheDir:  filepath.Join(toolDir, "cache"),
			StateDir:  filepath.Join(toolDir, "state"),
		}, nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		localAppData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		if localAppData == "" {
			localAppData = filepath.Join(home, "AppData", "Local")
		}
		return &Paths{
			ConfigDir: appData,
			DataDir:   localAppData,
			BinDir:    filepath.Join(localAppData, "Programs", "vm", "bin"),
			CacheDir:  filepath.Join(localAppData, "vm", "cache"),
			StateDir:  filepath.Join(home, ".vm"),
		}, nil
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir = filepath.Join(home, ".config")
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(home, ".local", "share")
	}
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		cacheDir = filepath.Join(home, ".cache")
	}

	return &Paths{
		ConfigDir: configDir,
		DataDir:   dataDir,
		BinDir:    filepath.Join(home, ".local", "bin"),
		CacheDir:  cacheDir,
		StateDir:  filepath.Join(home, ".vm"),
	}, nil
}

// ResolveFromEnv is the entrypoint normally used by main: it honours
// VM_TOOL_DIR when set.
func ResolveFromEnv() (*Paths, error) {
	return Resolve(os.Getenv("VM_TOOL_DIR"))
}

func (p *Paths) GlobalConfigFile() string {
	return filepath.Join(p.ConfigDir, "vm", "global.yaml")
}

func (p *Paths) PortRegistryFile() string {
	return filepath.Join(p.StateDir, "port-registry.json")
}

func (p *Paths) TempVMStateFile() string {
	return filepath.Join(p.StateDir, "temp-vm.state")
}

func (p *Paths) TempVMLockFile() string {
	return filepath.Join(p.StateDir, ".temp-vm.lock")
}

func (p *Paths) ServiceStateFile() string {
	return filepath.Join(p.StateDir, "service_state.json")
}

func (p *Paths) TunnelsFile() string {
	return filepath.Join(p.ConfigDir, "vm", "tunnels", "active.json")
}

func (p *Paths) SnapshotsRoot() string {
	return filepath.Join(p.DataDir, "vm", "snapshots")
}

func (p *Paths) PluginsDir() string {
	return filepath.Join(p.DataDir, "vm", "plugins")
}

func (p *Paths) PresetsDir() string {
	return filepath.Join(p.ConfigDir, "vm", "presets")
}

func (p *Paths) CLIPrefsFile() string {
	return filepath.Join(p.StateDir, "cli-prefs.json")
}

// EnsureDir creates dir (and parents) before a write into it.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
