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

// Package docker implements the primary provider.Runtime by shelling the
// docker CLI rather than linking docker/docker's Go SDK: `newCmd()` builds
// every invocation, and `runCommand()`/`output()` execute the
// non-interactive ones.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creack/pty"
	"github.com/docker/distribution/reference"
	"github.com/docker/go-connections/nat"

	"github.com/vmctl/vm/pkg/provider"
	"github.com/vmctl/vm/pkg/state"
	"github.com/vmctl/vm/pkg/vmerr"
)

// ErrDockerNotFound signals a missing docker binary.
var ErrDockerNotFound = fmt.Errorf("docker not found")

// Runtime shells the docker CLI. NewCmd is overridable so tests can swap in
// a recording double instead of a real docker binary.
type Runtime struct {
	NewCmd func(name string, arg ...string) *exec.Cmd
}

func New() *Runtime {
	return &Runtime{NewCmd: exec.Command}
}

// EnsureAvailable checks the docker binary is on PATH, the precondition
// every Runtime method assumes has already been satisfied.
func EnsureAvailable() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return ErrDockerNotFound
	}
	return nil
}

// newCmd builds a docker invocation, centralizing argument assembly.
func (r *Runtime) newCmd(ctx context.Context, args ...string) *exec.Cmd {
	return r.NewCmd("docker", args...)
}

// runCommand runs a docker command and wraps failures with output context.
func (r *Runtime) runCommand(ctx context.Context, op string, args ...string) error {
	cmd := r.newCmd(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return vmerr.Wrap(vmerr.KindProvider, op, strings.Join(args, " "), fmt.Errorf("%w: %s", err, out.String()))
	}
	return nil
}

func (r *Runtime) output(ctx context.Context, op string, args ...string) (string, error) {
	cmd := r.newCmd(ctx, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", vmerr.Wrap(vmerr.KindProvider, op, strings.Join(args, " "), fmt.Errorf("%w: %s", err, errOut.String()))
	}
	return out.String(), nil
}

// persistentVolumeArgs are the named volumes every temp VM container
// carries across a recreate, so `~/.nvm` installs and tool caches survive
// a mount-set change.
func persistentVolumeArgs() []string {
	return []string{
		"-v", "vmtemp_nvm:/home/developer/.nvm",
		"-v", "vmtemp_cache:/home/developer/.cache",
	}
}

func mountArgs(mounts []state.Mount) []string {
	args := make([]string, 0, len(mounts)*2)
	for _, m := range mounts {
		spec := fmt.Sprintf("%s:%s", m.Source, m.Target)
		if m.Permissions == state.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	return args
}

func portArgs(ports map[int]int) []string {
	// sorted for deterministic command lines, which matters for tests that
	// assert on exact argv.
	hostPorts := make([]int, 0, len(ports))
	for h := range ports {
		hostPorts = append(hostPorts, h)
	}
	sort.Ints(hostPorts)
	args := make([]string, 0, len(ports)*2)
	for _, h := range hostPorts {
		args = append(args, "-p", fmt.Sprintf("%d:%d", h, ports[h]))
	}
	return args
}

func envArgs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(env)*2)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, env[k]))
	}
	return args
}

// Create implements provider.Runtime.Create via `docker run -d --name`.
// The image reference is normalized through distribution/reference first,
// the same validation docker itself applies, so a malformed vm.yaml image
// string fails fast with a clear error instead of an opaque docker-run
// exit code.
func (r *Runtime) Create(ctx context.Context, spec provider.CreateSpec) error {
	image := spec.Image
	if image != "" {
		named, err := reference.ParseNormalizedName(image)
		if err != nil {
			return vmerr.Wrap(vmerr.KindValidation, "docker.create", image, err)
		}
		image = reference.TagNameOnly(named).String()
	}

	args := []string{"run", "-d", "--name", spec.Name}
	args = append(args, persistentVolumeArgs()...)
	if spec.ProjectDir != "" {
		args = append(args, "-v", spec.ProjectDir+":/workspace")
	}
	args = append(args, mountArgs(spec.Mounts)...)
	args = append(args, portArgs(spec.Ports)...)
	args = append(args, envArgs(spec.Env)...)
	args = append(args, image)
	return r.runCommand(ctx, "docker.create", args...)
}

func (r *Runtime) Start(ctx context.Context, name string) error {
	return r.runCommand(ctx, "docker.start", "start", name)
}

func (r *Runtime) Stop(ctx context.Context, name string) error {
	return r.runCommand(ctx, "docker.stop", "stop", name)
}

func (r *Runtime) Restart(ctx context.Context, name string) error {
	return r.runCommand(ctx, "docker.restart", "restart", name)
}

func (r *Runtime) Destroy(ctx context.Context, name string) error {
	return r.runCommand(ctx, "docker.destroy", "rm", "-f", name)
}

func (r *Runtime) Kill(ctx context.Context, name string) error {
	return r.runCommand(ctx, "docker.kill", "kill", name)
}

func (r *Runtime) Status(ctx context.Context, name string) (provider.Status, error) {
	out, err := r.output(ctx, "docker.status", "inspect", "-f", "{{.State.Status}}", name)
	if err != nil {
		return provider.StatusUnknown, err
	}
	switch strings.TrimSpace(out) {
	case "running":
		return provider.StatusRunning, nil
	case "exited", "created", "dead":
		return provider.StatusStopped, nil
	default:
		return provider.StatusUnknown, nil
	}
}

func (r *Runtime) IsRunning(ctx context.Context, name string) (bool, error) {
	out, err := r.output(ctx, "docker.is_running", "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

func (r *Runtime) List(ctx context.Context) ([]string, error) {
	out, err := r.output(ctx, "docker.list", "ps", "-a", "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Exec implements both interactive (TTY-backed via creack/pty) and
// one-shot exec.
func (r *Runtime) Exec(ctx context.Context, name string, opts provider.ExecOptions) error {
	args := []string{"exec"}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	args = append(args, name)
	args = append(args, opts.Command...)
	cmd := r.newCmd(ctx, args...)

	if !opts.TTY {
		cmd.Stdin = opts.Stdin
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
		if err := cmd.Run(); err != nil {
			return vmerr.Wrap(vmerr.KindProvider, "docker.exec", name, err)
		}
		return nil
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "docker.exec", name, err)
	}
	defer f.Close()

	done := make(chan struct{})
	if opts.Stdin != nil {
		go func() {
			io.Copy(f, opts.Stdin)
		}()
	}
	go func() {
		if opts.Stdout != nil {
			io.Copy(opts.Stdout, f)
		}
		close(done)
	}()
	<-done
	if err := cmd.Wait(); err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "docker.exec", name, err)
	}
	return nil
}

// SSH opens an interactive shell inside the container — Docker containers
// don't run sshd by default, so "ssh" here means `docker exec -it <name>
// <shell>` rather than a literal SSH client. Unlike Exec, this attaches the
// calling process's own terminal directly rather than going through the
// pty-relay path: `docker exec -it` already allocates and owns the pty
// itself, so there is no relay loop to drive.
func (r *Runtime) SSH(ctx context.Context, name string, path string) error {
	shell := []string{"/bin/bash"}
	if path != "" {
		shell = []string{"/bin/bash", "-c", fmt.Sprintf("cd %q && exec /bin/bash", path)}
	}
	args := append([]string{"exec", "-it", name}, shell...)
	cmd := r.newCmd(ctx, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "docker.ssh", name, err)
	}
	return nil
}

func (r *Runtime) Logs(ctx context.Context, name string, opts provider.LogOptions) error {
	args := []string{"logs"}
	if opts.Follow {
		args = append(args, "--follow")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.Tail))
	}
	args = append(args, name)
	return r.runCommand(ctx, "docker.logs", args...)
}

func (r *Runtime) GetSyncDirectory(ctx context.Context, name string) (string, error) {
	out, err := r.output(ctx, "docker.get_sync_directory", "inspect", "-f",
		`{{range .Mounts}}{{if eq .Destination "/workspace"}}{{.Source}}{{end}}{{end}}`, name)
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(out)
	if dir == "" {
		return "", vmerr.New(vmerr.KindNotFound, "docker.get_sync_directory", fmt.Errorf("no workspace mount found on %q", name))
	}
	return dir, nil
}

// RecreateWithMounts is step 4 of the reconciler: stop/rm/recreate/start
// happen outside this call (UpdateMounts), this is just "docker run" with
// the new mount set plus preserved volumes.
func (r *Runtime) RecreateWithMounts(ctx context.Context, spec provider.CreateSpec) error {
	return r.Create(ctx, spec)
}

// UpdateMounts implements the full mount reconciler contract.
func (r *Runtime) UpdateMounts(ctx context.Context, name string, mounts []state.Mount) error {
	running, err := r.IsRunning(ctx, name)
	if err != nil {
		return err
	}
	image, preservedPorts, preservedEnv, err := r.inspectForRecreate(ctx, name)
	if err != nil {
		return err
	}
	workspace, err := r.GetSyncDirectory(ctx, name)
	if err != nil {
		return err
	}

	if running {
		if err := r.Stop(ctx, name); err != nil {
			return err
		}
	}
	if err := r.Destroy(ctx, name); err != nil {
		return err
	}

	allMounts := append([]state.Mount{{Source: workspace, Target: "/workspace", Permissions: state.ReadWrite}}, mounts...)
	if err := r.RecreateWithMounts(ctx, provider.CreateSpec{
		Name:       name,
		Image:      image,
		Mounts:     allMounts,
		Env:        preservedEnv,
		Ports:      preservedPorts,
	}); err != nil {
		return err
	}
	if err := r.Start(ctx, name); err != nil {
		return err
	}
	return r.CheckContainerHealth(ctx, name, 10, time.Second)
}

// inspectForRecreate reads back the image, published port bindings, and
// environment of a running container, so UpdateMounts can recreate it
// without losing state the caller never passed in.
func (r *Runtime) inspectForRecreate(ctx context.Context, name string) (image string, ports map[int]int, env map[string]string, err error) {
	imageOut, ierr := r.output(ctx, "docker.inspect", "inspect", "-f", "{{.Config.Image}}", name)
	if ierr != nil {
		return "", nil, nil, ierr
	}

	bindingsOut, ierr := r.output(ctx, "docker.inspect", "inspect", "-f", "{{json .HostConfig.PortBindings}}", name)
	if ierr != nil {
		return "", nil, nil, ierr
	}
	ports, ierr = parsePortBindings(bindingsOut)
	if ierr != nil {
		return "", nil, nil, vmerr.Wrap(vmerr.KindProvider, "docker.inspect", name, ierr)
	}

	envOut, ierr := r.output(ctx, "docker.inspect", "inspect", "-f", "{{json .Config.Env}}", name)
	if ierr != nil {
		return "", nil, nil, ierr
	}
	env, ierr = parseEnvList(envOut)
	if ierr != nil {
		return "", nil, nil, vmerr.Wrap(vmerr.KindProvider, "docker.inspect", name, ierr)
	}

	return strings.TrimSpace(imageOut), ports, env, nil
}

// parsePortBindings decodes docker inspect's HostConfig.PortBindings
// (nat.PortMap's own JSON shape) into the host->container map CreateSpec
// expects.
func parsePortBindings(raw string) (map[int]int, error) {
	ports := map[int]int{}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ports, nil
	}
	var bindings nat.PortMap
	if err := json.Unmarshal([]byte(raw), &bindings); err != nil {
		return nil, fmt.Errorf("parse port bindings: %w", err)
	}
	for containerPort, hostBindings := range bindings {
		cp, err := containerPort.Int()
		if err != nil {
			continue
		}
		for _, hb := range hostBindings {
			hp, err := strconv.Atoi(hb.HostPort)
			if err != nil {
				continue
			}
			ports[hp] = cp
		}
	}
	return ports, nil
}

// parseEnvList decodes docker inspect's Config.Env ("KEY=VALUE" strings)
// into a map.
func parseEnvList(raw string) (map[string]string, error) {
	env := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return env, nil
	}
	var entries []string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parse env list: %w", err)
	}
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env, nil
}

// CheckContainerHealth probes by executing a trivial command, retried with
// fixed spacing.
func (r *Runtime) CheckContainerHealth(ctx context.Context, name string, retries int, spacing time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(spacing):
			}
		}
		if err := r.runCommand(ctx, "docker.health", "exec", name, "true"); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return vmerr.New(vmerr.KindProvider, "docker.health", fmt.Errorf("container %q did not become healthy after %d attempts: %w", name, retries, lastErr))
}
