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

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vmctl/vm/pkg/env"
	"github.com/vmctl/vm/pkg/port"
	"github.com/vmctl/vm/pkg/provider"
	"github.com/vmctl/vm/pkg/service"
)

// serviceEnvFile is the shape written to <project>/.vm.env after a create,
// so a project's own tooling can pick up the backing services' ports
// without re-reading vm.yaml.
type serviceEnvFile struct {
	PostgresPort string `env:"VM_POSTGRES_PORT"`
	RedisPort    string `env:"VM_REDIS_PORT"`
	MongoPort    string `env:"VM_MONGO_PORT"`
	MySQLPort    string `env:"VM_MYSQL_PORT"`
}

func writeServiceEnvFile(projectDir string, enabled []service.EnabledService) error {
	var f serviceEnvFile
	for _, e := range enabled {
		p := e.Port
		if p == 0 {
			p = service.DefaultPorts[e.Name]
		}
		switch e.Name {
		case "postgresql":
			f.PostgresPort = fmt.Sprint(p)
		case "redis":
			f.RedisPort = fmt.Sprint(p)
		case "mongodb":
			f.MongoPort = fmt.Sprint(p)
		case "mysql":
			f.MySQLPort = fmt.Sprint(p)
		}
	}
	return env.Write(filepath.Join(projectDir, ".vm.env"), &f)
}

// resolveVM loads the effective config for the current directory and
// returns the derived container name plus the provider it belongs to,
// the shared first step of every persistent-VM lifecycle command.
func (a *App) resolveVM(noPreset bool, presetNames []string) (string, provider.Runtime, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}
	_, cfg, err := a.loadEffective(dir, noPreset, presetNames)
	if err != nil {
		return "", nil, err
	}
	return containerNameFor(dir), a.runtimeFor(cfg), nil
}

func (a *App) createCmd() *cobra.Command {
	var noPreset bool
	var presetNames []string
	var force bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and start the project's persistent VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			doc, cfg, err := a.loadEffective(dir, noPreset, presetNames)
			if err != nil {
				return err
			}
			name := containerNameFor(dir)
			rt := a.runtimeFor(cfg)

			if running, _ := rt.IsRunning(ctx, name); running {
				if !force {
					fmt.Fprintf(cmd.OutOrStdout(), "%s already exists; use --force to recreate\n", name)
					return nil
				}
				if err := rt.Destroy(ctx, name); err != nil {
					return err
				}
			}

			rng, err := a.reservePorts(name, cfg.Ports.Range)
			if err != nil {
				return err
			}

			spec := provider.CreateSpec{
				Name:       name,
				Image:      cfg.VM.Image,
				ProjectDir: dir,
				Ports:      map[int]int{int(rng.Start): int(rng.Start)},
			}
			if err := rt.Create(ctx, spec); err != nil {
				return err
			}

			enabled := cfg.enabledServices()
			warnings, err := a.Services.RegisterVMServices(ctx, name, enabled)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			if len(enabled) > 0 {
				if err := writeServiceEnvFile(dir, enabled); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: writing .vm.env: %v\n", err)
				}
			}

			a.maybePrintBanner(doc, "")
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noPreset, "no-preset", false, "skip preset resolution/auto-detection")
	cmd.Flags().StringSliceVar(&presetNames, "preset", nil, "explicit preset name(s) to apply")
	cmd.Flags().BoolVar(&force, "force", false, "recreate even if the VM already exists")
	return cmd
}

func (a *App) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the project's persistent VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rt, err := a.resolveVM(false, nil)
			if err != nil {
				return err
			}
			return rt.Start(cmd.Context(), name)
		},
	}
}

func (a *App) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the project's persistent VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rt, err := a.resolveVM(false, nil)
			if err != nil {
				return err
			}
			return rt.Stop(cmd.Context(), name)
		},
	}
}

func (a *App) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the project's persistent VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rt, err := a.resolveVM(false, nil)
			if err != nil {
				return err
			}
			return rt.Restart(cmd.Context(), name)
		},
	}
}

func (a *App) destroyCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the project's persistent VM and unregister its services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, rt, err := a.resolveVM(false, nil)
			if err != nil {
				return err
			}
			ok, err := a.confirm(fmt.Sprintf("destroy %s?", name), yes)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := rt.Destroy(ctx, name); err != nil {
				return err
			}
			if err := a.Services.UnregisterVMServices(ctx, name); err != nil {
				return err
			}
			if reg, rerr := port.Load(a.Paths.PortRegistryFile()); rerr == nil {
				reg.Release(name)
				_ = reg.Save()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func (a *App) provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Re-run provisioning on the existing VM (recreate with current config)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			_, cfg, err := a.loadEffective(dir, false, nil)
			if err != nil {
				return err
			}
			name := containerNameFor(dir)
			rt := a.runtimeFor(cfg)
			return rt.RecreateWithMounts(ctx, provider.CreateSpec{
				Name:       name,
				Image:      cfg.VM.Image,
				ProjectDir: dir,
			})
		},
	}
}

func (a *App) sshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh [PATH]",
		Short: "Open a shell in the project's persistent VM",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rt, err := a.resolveVM(false, nil)
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return rt.SSH(cmd.Context(), name, path)
		},
	}
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the project's persistent VM status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rt, err := a.resolveVM(false, nil)
			if err != nil {
				return err
			}
			st, err := rt.Status(cmd.Context(), name)
			if err != nil {
				return err
			}
			c := color.New(color.FgRed)
			if st == provider.StatusRunning {
				c = color.New(color.FgGreen)
			}
			c.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, st)
			return nil
		},
	}
}

func (a *App) execCmd() *cobra.Command {
	var interactive, tty bool

	cmd := &cobra.Command{
		Use:   "exec -- CMD...",
		Short: "Run a command in the project's persistent VM",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rt, err := a.resolveVM(false, nil)
			if err != nil {
				return err
			}
			return rt.Exec(cmd.Context(), name, provider.ExecOptions{
				Command:     args,
				Interactive: interactive,
				TTY:         tty,
				Stdin:       a.Stdin,
				Stdout:      a.Stdout,
				Stderr:      a.Stderr,
			})
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "keep stdin open")
	cmd.Flags().BoolVarP(&tty, "tty", "t", false, "allocate a pseudo-tty")
	return cmd
}

func (a *App) logsCmd() *cobra.Command {
	var follow bool
	var tail int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Stream logs from the project's persistent VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rt, err := a.resolveVM(false, nil)
			if err != nil {
				return err
			}
			return rt.Logs(cmd.Context(), name, provider.LogOptions{Follow: follow, Tail: tail})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVar(&tail, "tail", 0, "number of lines to show from the end (0 = all)")
	return cmd
}

func (a *App) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every VM-managed container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.DockerRT.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				if !strings.HasPrefix(n, "vm-") {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func (a *App) killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill [CONTAINER]",
		Short: "Force-kill a VM container (defaults to the project's own)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			var rt provider.Runtime = a.DockerRT
			if len(args) == 1 {
				name = args[0]
			} else {
				var err error
				name, rt, err = a.resolveVM(false, nil)
				if err != nil {
					return err
				}
			}
			return rt.Kill(cmd.Context(), name)
		},
	}
}
