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

	"github.com/spf13/cobra"

	"github.com/vmctl/vm/pkg/snapshot"
)

func (a *App) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list, restore and delete environment snapshots",
	}
	cmd.AddCommand(
		a.snapshotCreateCmd(),
		a.snapshotListCmd(),
		a.snapshotRestoreCmd(),
		a.snapshotDeleteCmd(),
	)
	return cmd
}

// snapshotProjectName derives the project name snapshot.ResolveScope needs,
// the same way vm_cmd.go derives a container name.
func snapshotProjectName() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return containerNameFor(dir), nil
}

func (a *App) snapshotCreateCmd() *cobra.Command {
	var description string
	var quiesce, force bool
	var fromDockerfile, buildContext string
	var buildArgs []string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new snapshot of the current project's environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			projectName, err := snapshotProjectName()
			if err != nil {
				return err
			}

			if fromDockerfile != "" {
				buildArgsMap, err := snapshot.ParseBuildArgs(buildArgs)
				if err != nil {
					return err
				}
				ctx := buildContext
				if ctx == "" {
					ctx = dir
				}
				meta, err := a.Snapshots.CreateFromDockerfile(cmd.Context(), snapshot.DockerfileOptions{
					Name:           args[0],
					Description:    description,
					Force:          force,
					ProjectName:    projectName,
					DockerfilePath: fromDockerfile,
					BuildContext:   ctx,
					BuildArgs:      buildArgsMap,
				})
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), meta)
			}

			meta, err := a.Snapshots.Create(cmd.Context(), snapshot.CreateOptions{
				Name:        args[0],
				Description: description,
				Quiesce:     quiesce,
				Force:       force,
				ProjectDir:  dir,
				ProjectName: projectName,
			})
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), meta)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "human-readable note stored with the snapshot")
	cmd.Flags().BoolVar(&quiesce, "quiesce", false, "pause compose services while committing images")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing snapshot of the same name")
	cmd.Flags().StringVar(&fromDockerfile, "from-dockerfile", "", "build a synthetic snapshot from a Dockerfile instead of the running project")
	cmd.Flags().StringVar(&buildContext, "build-context", "", "build context directory (defaults to the project directory)")
	cmd.Flags().StringArrayVar(&buildArgs, "build-arg", nil, "KEY=VALUE build arg, repeatable")
	return cmd
}

func (a *App) snapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots visible to the current project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectName, err := snapshotProjectName()
			if err != nil {
				return err
			}
			names, err := a.Snapshots.List(projectName)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func (a *App) snapshotRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore NAME",
		Short: "Restore a snapshot over the current project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectName, err := snapshotProjectName()
			if err != nil {
				return err
			}
			return a.Snapshots.Restore(cmd.Context(), args[0], projectName)
		},
	}
}

func (a *App) snapshotDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectName, err := snapshotProjectName()
			if err != nil {
				return err
			}
			ok, err := a.confirm(fmt.Sprintf("delete snapshot %s?", args[0]), yes)
			if err != nil || !ok {
				return err
			}
			return a.Snapshots.Delete(args[0], projectName)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
