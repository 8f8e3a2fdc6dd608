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

// Package provider defines the container-runtime abstraction that the CLI
// layer and the mount reconciler drive. Docker is the primary
// implementation; Tart is a secondary, SSH/SFTP-based lightweight VM
// runtime that does not support live mount reconciliation.
package provider

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/vmctl/vm/pkg/state"
)

// ErrUnsupported is returned by providers that cannot implement an
// ephemeral-only operation (e.g. Tart has no concept of bind-mount
// reconciliation on a running VM).
var ErrUnsupported = errors.New("operation not supported by this provider")

// Status is the coarse lifecycle state of a managed environment.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusUnknown Status = "unknown"
)

// CreateSpec describes a new environment to create.
type CreateSpec struct {
	Name       string
	Image      string // resolved base image/box
	ProjectDir string
	Mounts     []state.Mount
	Env        map[string]string
	Ports      map[int]int // host -> container
}

// ExecOptions configures an interactive or one-shot exec.
type ExecOptions struct {
	Command    []string
	Interactive bool
	TTY        bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// LogOptions configures log streaming.
type LogOptions struct {
	Follow bool
	Tail   int
}

// Provider names a backing provider; the capability surface the CLI and
// C10's reconciler drive is the Runtime interface below.
type Provider struct {
	Name string
}

// Runtime is the interface implemented per-provider.
type Runtime interface {
	Create(ctx context.Context, spec CreateSpec) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (Status, error)
	IsRunning(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Kill(ctx context.Context, name string) error
	Exec(ctx context.Context, name string, opts ExecOptions) error
	SSH(ctx context.Context, name string, path string) error
	Logs(ctx context.Context, name string, opts LogOptions) error

	// GetSyncDirectory returns the host path bind-mounted as the project
	// workspace, used by UpdateMounts to carry that bind across a
	// recreate.
	GetSyncDirectory(ctx context.Context, name string) (string, error)

	// UpdateMounts and RecreateWithMounts implement the mount reconciler
	//: UpdateMounts is the full stop/rm/recreate/start/probe
	// sequence; RecreateWithMounts is the recreate-only step, exposed
	// separately so tests can exercise it without a running daemon.
	UpdateMounts(ctx context.Context, name string, mounts []state.Mount) error
	RecreateWithMounts(ctx context.Context, spec CreateSpec) error

	CheckContainerHealth(ctx context.Context, name string, retries int, spacing time.Duration) error
}
