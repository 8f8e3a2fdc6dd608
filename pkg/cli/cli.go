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
	"runtime/debug"

	"github.com/spf13/cobra"
)

// RootCmd builds the full `vm` subcommand tree (CLI surface
// sketch), wired to a.
func (a *App) RootCmd(name string) *cobra.Command {
	cmd := &cobra.Command{
		Use: name,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetIn(a.Stdin)
	cmd.SetOut(a.Stdout)
	cmd.SetErr(a.Stderr)

	cmd.AddCommand(
		a.initCmd(),
		a.configCmd(),
		a.presetCmd(),
		a.createCmd(),
		a.startCmd(),
		a.stopCmd(),
		a.restartCmd(),
		a.destroyCmd(),
		a.provisionCmd(),
		a.sshCmd(),
		a.statusCmd(),
		a.execCmd(),
		a.logsCmd(),
		a.listCmd(),
		a.killCmd(),
		a.tempCmd(),
		a.snapshotCmd(),
		a.portCmd(),
		a.versionCmd(),
	)

	return cmd
}

func (a *App) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version of vm",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(VersionCommit() + "\n"))
			return err
		},
	}
}

// VersionCommit returns the commit hash of the current build.
func VersionCommit() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	var dirty bool
	var commit string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return "dev"
	}
	if len(commit) >= 9 {
		commit = commit[:9]
	}
	if dirty {
		commit += "+dirty"
	}
	return commit
}
