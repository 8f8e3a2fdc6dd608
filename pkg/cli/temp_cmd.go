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
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vmctl/vm/pkg/provider"
	"github.com/vmctl/vm/pkg/state"
)

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// tempCmd implements the ephemeral-VM command tree: create, ssh, status,
// destroy, mount/unmount/mounts, list, stop, start, restart — all backed by
// the single temp-vm.state record and the mount reconciler.
func (a *App) tempCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "temp",
		Short: "Manage the single ephemeral VM",
	}
	cmd.AddCommand(
		a.tempCreateCmd(),
		a.tempSSHCmd(),
		a.tempStatusCmd(),
		a.tempDestroyCmd(),
		a.tempMountCmd(),
		a.tempUnmountCmd(),
		a.tempMountsCmd(),
		a.tempListCmd(),
		a.tempStopCmd(),
		a.tempStartCmd(),
		a.tempRestartCmd(),
	)
	return cmd
}

func (a *App) tempCreateCmd() *cobra.Command {
	var autoDestroy bool
	var providerName string

	cmd := &cobra.Command{
		Use:   "create [MOUNTS...]",
		Short: "Create the ephemeral VM with the given mount specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mounts := make([]state.Mount, 0, len(args))
			for _, spec := range args {
				m, err := state.ParseMount(spec)
				if err != nil {
					return err
				}
				mounts = append(mounts, m)
			}
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			name := "vm-temp-" + strings.TrimPrefix(containerNameFor(dir), "vm-")
			rt := a.rtForProviderName(providerName)

			if err := rt.Create(ctx, provider.CreateSpec{
				Name:       name,
				ProjectDir: dir,
				Mounts:     mounts,
			}); err != nil {
				return err
			}

			return a.TempState.Save(&state.TempVMState{
				ContainerName: name,
				Provider:      providerName,
				CreatedAt:     time.Now(),
				ProjectDir:    dir,
				AutoDestroy:   autoDestroy,
				Mounts:        mounts,
			})
		},
	}
	cmd.Flags().BoolVar(&autoDestroy, "auto-destroy", false, "record auto_destroy in the ephemeral VM state (the VM is not destroyed automatically)")
	cmd.Flags().StringVar(&providerName, "provider", "docker", "backing provider (docker|tart)")
	return cmd
}

func (a *App) rtForProviderName(name string) provider.Runtime {
	if name == "tart" {
		return a.TartRT
	}
	return a.DockerRT
}

func (a *App) tempSSHCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh",
		Short: "Open a shell in the ephemeral VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			return a.rtForProviderName(st.Provider).SSH(cmd.Context(), st.ContainerName, "")
		},
	}
}

func (a *App) tempStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the ephemeral VM's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			s, err := a.rtForProviderName(st.Provider).Status(cmd.Context(), st.ContainerName)
			if err != nil {
				return err
			}
			c := color.New(color.FgRed)
			if s == provider.StatusRunning {
				c = color.New(color.FgGreen)
			}
			c.Fprintf(cmd.OutOrStdout(), "%s: %s\n", st.ContainerName, s)
			return nil
		},
	}
}

func (a *App) tempDestroyCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the ephemeral VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			ok, err := a.confirm(fmt.Sprintf("destroy %s?", st.ContainerName), yes)
			if err != nil || !ok {
				return err
			}
			if err := a.rtForProviderName(st.Provider).Destroy(cmd.Context(), st.ContainerName); err != nil {
				return err
			}
			a.TempState.CleanupTempFiles()
			return a.TempState.Delete()
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func (a *App) tempMountCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "mount <path>",
		Short: "Add a mount to the running ephemeral VM (recreates it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := state.ParseMount(args[0])
			if err != nil {
				return err
			}
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			for _, existing := range st.Mounts {
				if existing.Source == m.Source {
					return fmt.Errorf("mount source %q is already mounted", m.Source)
				}
			}
			ok, err := a.confirm(fmt.Sprintf("recreate %s to add mount %s?", st.ContainerName, m.Source), yes)
			if err != nil || !ok {
				return err
			}
			st.Mounts = append(st.Mounts, m)
			rt := a.rtForProviderName(st.Provider)
			if err := rt.UpdateMounts(cmd.Context(), st.ContainerName, st.Mounts); err != nil {
				return err
			}
			return a.TempState.Save(st)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func (a *App) tempUnmountCmd() *cobra.Command {
	var all, yes bool
	cmd := &cobra.Command{
		Use:   "unmount [PATH]",
		Short: "Remove a mount (or all mounts, with --all) from the ephemeral VM",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			var target string
			if len(args) == 1 {
				abs, err := absPath(args[0])
				if err != nil {
					return err
				}
				target = abs
			} else if !all {
				return fmt.Errorf("specify a path or pass --all")
			}

			ok, err := a.confirm(fmt.Sprintf("recreate %s to remove mount(s)?", st.ContainerName), yes)
			if err != nil || !ok {
				return err
			}

			var kept []state.Mount
			for _, m := range st.Mounts {
				if all || m.Source == target {
					continue
				}
				kept = append(kept, m)
			}
			st.Mounts = kept
			rt := a.rtForProviderName(st.Provider)
			if err := rt.UpdateMounts(cmd.Context(), st.ContainerName, st.Mounts); err != nil {
				return err
			}
			return a.TempState.Save(st)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every mount")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func (a *App) tempMountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mounts",
		Short: "List the ephemeral VM's current mounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			for _, m := range st.Mounts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", m.Source, m.Target, m.Permissions)
			}
			return nil
		},
	}
}

func (a *App) tempListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the ephemeral VM record, if any",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), st)
		},
	}
}

func (a *App) tempStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the ephemeral VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			return a.rtForProviderName(st.Provider).Stop(cmd.Context(), st.ContainerName)
		},
	}
}

func (a *App) tempStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the ephemeral VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			return a.rtForProviderName(st.Provider).Start(cmd.Context(), st.ContainerName)
		},
	}
}

func (a *App) tempRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the ephemeral VM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.TempState.Load()
			if err != nil {
				return err
			}
			return a.rtForProviderName(st.Provider).Restart(cmd.Context(), st.ContainerName)
		},
	}
}
