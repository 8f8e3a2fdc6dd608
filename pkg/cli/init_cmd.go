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
	"strings"

	"github.com/fatih/color"
	"github.com/hugomd/ascii-live/frames"
	"github.com/spf13/cobra"

	"github.com/vmctl/vm/pkg/config"
)

// maybePrintBanner shows a single ascii-live mascot frame when the
// effective config opts into it via terminal.emoji, a one-shot nod to the
// environment about to be created. It never loops or animates: vm is a
// short-lived process, so the frame is printed once before the command runs.
func (a *App) maybePrintBanner(doc *config.Document, theme string) {
	node, ok := doc.Get("terminal.emoji")
	if !ok || node.Value != "true" {
		return
	}
	p := frames.Parrot
	c := color.New(color.FgCyan)
	if strings.EqualFold(theme, "mono") {
		c = color.New(color.Reset)
	}
	c.Fprintln(a.Stdout, p.GetFrame(0))
}

func (a *App) initCmd() *cobra.Command {
	var file string
	var servicesFlag string
	var portsStart string

	cmd := &cobra.Command{
		Use:   "init [--file P] [--services S,...] [--ports START]",
		Short: "Write a new vm.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := file
			if target == "" {
				target = "vm.yaml"
			}
			store := a.ConfigStore.WithProjectFile(target)

			if servicesFlag != "" {
				for _, svc := range strings.Split(servicesFlag, ",") {
					svc = strings.TrimSpace(svc)
					if svc == "" {
						continue
					}
					if _, err := store.Set("services."+svc+".enabled", []string{"true"}, false); err != nil {
						return err
					}
				}
			}
			if portsStart != "" {
				if _, err := store.Set("ports.range", []string{portsStart}, false); err != nil {
					return err
				}
			}

			doc, err := store.Project()
			if err != nil {
				return err
			}
			a.maybePrintBanner(doc, "")
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to write (defaults to ./vm.yaml)")
	cmd.Flags().StringVar(&servicesFlag, "services", "", "comma-separated services to enable")
	cmd.Flags().StringVar(&portsStart, "ports", "", "starting host port for service allocation")
	return cmd
}
