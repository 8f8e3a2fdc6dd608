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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vmctl/vm/pkg/cli"
	"github.com/vmctl/vm/pkg/paths"
	"github.com/vmctl/vm/pkg/vmerr"
)

func main() {
	p, err := paths.ResolveFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := cli.NewApp(p)
	root := a.RootCmd("vm")
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		var verr *vmerr.Error
		if e, ok := err.(*vmerr.Error); ok {
			verr = e
		}
		fmt.Fprintln(os.Stderr, err)
		if verr != nil && verr.Hint != "" {
			fmt.Fprintln(os.Stderr, "  "+verr.Hint)
		}
		os.Exit(vmerr.KindOf(err).ExitCode())
	}
}
