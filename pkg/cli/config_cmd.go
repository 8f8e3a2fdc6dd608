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
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func (a *App) configCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write vm.yaml / the global config",
	}
	cmd.PersistentFlags().BoolVar(&global, "global", false, "operate on the global config instead of the project one")

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Print the value at a dotted config path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := a.ConfigStore.Get(args[0], global)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), val)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value...>",
		Short: "Set a dotted config path",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := a.ConfigStore.Set(args[0], args[1:], global)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), val)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <path>",
		Short: "Remove a dotted config path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ConfigStore.Unset(args[0], global)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the whole config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ConfigStore.Clear(global)
		},
	})

	cmd.AddCommand(a.configPresetCmd(&global))

	return cmd
}

// configPresetCmd implements `config preset`, the project-level preset
// selector distinct from the read-only `preset` introspection tree.
func (a *App) configPresetCmd(global *bool) *cobra.Command {
	var list bool
	var show string

	cmd := &cobra.Command{
		Use:   "preset [NAMES...]",
		Short: "Show or set the preset(s) a project applies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				names, err := a.Presets.List()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}
			if show != "" {
				p, _, err := a.Presets.Load(show)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), p.Doc.Root())
			}
			if len(args) == 0 {
				val, err := a.ConfigStore.Get("preset", *global)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), val)
				return nil
			}
			val, err := a.ConfigStore.Set("preset", []string{strings.Join(args, ",")}, *global)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), val)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list every known preset name")
	cmd.Flags().StringVar(&show, "show", "", "print a single preset's config contribution")
	return cmd
}

func (a *App) presetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Inspect built-in, plugin and filesystem presets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every visible preset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.Presets.List()
			if err != nil {
				return err
			}
			sort.Strings(names)
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print a preset's config contribution and where it came from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, source, err := a.Presets.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", source)
			return printYAML(cmd.OutOrStdout(), p.Doc.Root())
		},
	})

	return cmd
}
