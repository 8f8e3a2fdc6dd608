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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vmctl/vm/pkg/tunnel"
)

func (a *App) portCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Forward, list and stop container port tunnels",
	}
	cmd.AddCommand(
		a.portForwardCmd(),
		a.portListCmd(),
		a.portStopCmd(),
	)
	return cmd
}

func (a *App) portForwardCmd() *cobra.Command {
	var container string

	cmd := &cobra.Command{
		Use:   "forward HOST:CONTAINER",
		Short: "Start a port-forward sidecar into a running container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostPort, containerPort, err := tunnel.ParseHostContainerSpec(args[0])
			if err != nil {
				return err
			}
			info, err := a.Tunnels.CreateTunnel(cmd.Context(), hostPort, containerPort, container)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forwarding localhost:%d -> %s:%d via %s\n",
				info.HostPort, info.Container, info.ContainerPort, info.Sidecar)
			return nil
		},
	}
	cmd.Flags().StringVar(&container, "container", "", "container to forward into")
	cmd.MarkFlagRequired("container")
	return cmd
}

func (a *App) portListCmd() *cobra.Command {
	var container string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active port tunnels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := a.Tunnels.ListTunnels(cmd.Context(), container)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%d -> %s:%d (%s)\n", info.HostPort, info.Container, info.ContainerPort, info.Sidecar)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&container, "container", "", "only show tunnels into containers matching this substring")
	return cmd
}

func (a *App) portStopCmd() *cobra.Command {
	var container string
	var all bool

	cmd := &cobra.Command{
		Use:   "stop [PORT]",
		Short: "Stop one tunnel by host port, or every matching tunnel with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				failures, err := a.Tunnels.StopAllTunnels(cmd.Context(), container)
				if err != nil {
					return err
				}
				for _, f := range failures {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", f)
				}
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("specify a port or pass --all")
			}
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}
			return a.Tunnels.StopTunnel(cmd.Context(), port)
		},
	}
	cmd.Flags().StringVar(&container, "container", "", "substring filter used with --all")
	cmd.Flags().BoolVar(&all, "all", false, "stop every tunnel matching --container (or all tunnels if unset)")
	return cmd
}
