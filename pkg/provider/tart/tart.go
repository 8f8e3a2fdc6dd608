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

// Package tart implements the secondary provider.Runtime: a lightweight VM
// runtime (macOS's Tart) reached over SSH/SFTP rather than a local CLI
// socket. Tart VMs are long-lived and have no concept of live bind-mount
// reconciliation, so the three ephemeral-only operations (GetSyncDirectory,
// UpdateMounts, RecreateWithMounts) return provider.ErrUnsupported
// (provider-capability split); Logs returns it as well.
package tart

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/vmctl/vm/pkg/provider"
	"github.com/vmctl/vm/pkg/state"
	"github.com/vmctl/vm/pkg/vmerr"
)

func loadSigner(keyPath string) (ssh.Signer, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}
	return signer, nil
}

// Runtime drives `tart` CLI lifecycle commands and an SSH/SFTP session for
// exec/file operations once the VM is reachable.
type Runtime struct {
	NewCmd     func(name string, args ...string) *exec.Cmd
	SSHUser    string
	SSHKeyPath string
	dialSSH    func(addr string) (*ssh.Client, error)
}

func New(sshUser, sshKeyPath string) *Runtime {
	r := &Runtime{NewCmd: exec.Command, SSHUser: sshUser, SSHKeyPath: sshKeyPath}
	r.dialSSH = r.defaultDialSSH
	return r
}

func (r *Runtime) tart(ctx context.Context, op string, args ...string) (string, error) {
	cmd := r.NewCmd("tart", args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", vmerr.Wrap(vmerr.KindProvider, op, strings.Join(args, " "), fmt.Errorf("%w: %s", err, errOut.String()))
	}
	return out.String(), nil
}

func (r *Runtime) Create(ctx context.Context, spec provider.CreateSpec) error {
	_, err := r.tart(ctx, "tart.create", "clone", spec.Image, spec.Name)
	return err
}

func (r *Runtime) Start(ctx context.Context, name string) error {
	_, err := r.tart(ctx, "tart.start", "run", "--no-graphics", name)
	return err
}

func (r *Runtime) Stop(ctx context.Context, name string) error {
	_, err := r.tart(ctx, "tart.stop", "stop", name)
	return err
}

func (r *Runtime) Restart(ctx context.Context, name string) error {
	if err := r.Stop(ctx, name); err != nil {
		return err
	}
	return r.Start(ctx, name)
}

func (r *Runtime) Destroy(ctx context.Context, name string) error {
	_, err := r.tart(ctx, "tart.destroy", "delete", name)
	return err
}

func (r *Runtime) Kill(ctx context.Context, name string) error {
	return r.Stop(ctx, name)
}

func (r *Runtime) Status(ctx context.Context, name string) (provider.Status, error) {
	out, err := r.tart(ctx, "tart.status", "list", "--format", "json")
	if err != nil {
		return provider.StatusUnknown, err
	}
	if strings.Contains(out, name) && strings.Contains(out, "running") {
		return provider.StatusRunning, nil
	}
	return provider.StatusStopped, nil
}

func (r *Runtime) IsRunning(ctx context.Context, name string) (bool, error) {
	st, err := r.Status(ctx, name)
	if err != nil {
		return false, err
	}
	return st == provider.StatusRunning, nil
}

func (r *Runtime) List(ctx context.Context) ([]string, error) {
	out, err := r.tart(ctx, "tart.list", "list", "--quiet")
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

func (r *Runtime) ip(ctx context.Context, name string) (string, error) {
	out, err := r.tart(ctx, "tart.ip", "ip", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Runtime) defaultDialSSH(addr string) (*ssh.Client, error) {
	var authMethods []ssh.AuthMethod
	if r.SSHKeyPath != "" {
		signer, err := loadSigner(r.SSHKeyPath)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	config := &ssh.ClientConfig{
		User:            r.SSHUser,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	return ssh.Dial("tcp", addr, config)
}

func (r *Runtime) dial(ctx context.Context, name string) (*ssh.Client, error) {
	host, err := r.ip(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.dialSSH(net.JoinHostPort(host, "22"))
}

func (r *Runtime) Exec(ctx context.Context, name string, opts provider.ExecOptions) error {
	client, err := r.dial(ctx, name)
	if err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "tart.exec", name, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "tart.exec", name, err)
	}
	defer session.Close()

	session.Stdin = opts.Stdin
	session.Stdout = opts.Stdout
	session.Stderr = opts.Stderr

	if opts.TTY {
		if err := session.RequestPty("xterm", 40, 80, ssh.TerminalModes{}); err != nil {
			return vmerr.Wrap(vmerr.KindProvider, "tart.exec", name, err)
		}
	}
	if err := session.Run(strings.Join(opts.Command, " ")); err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "tart.exec", name, err)
	}
	return nil
}

func (r *Runtime) SSH(ctx context.Context, name string, path string) error {
	cmd := []string{"/bin/zsh", "-l"}
	if path != "" {
		cmd = []string{"/bin/zsh", "-l", "-c", fmt.Sprintf("cd %q && exec /bin/zsh -l", path)}
	}
	return r.Exec(ctx, name, provider.ExecOptions{
		Command:     cmd,
		Interactive: true,
		TTY:         true,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	})
}

func (r *Runtime) Logs(ctx context.Context, name string, opts provider.LogOptions) error {
	return provider.ErrUnsupported
}

// GetSyncDirectory, UpdateMounts, RecreateWithMounts are ephemeral-only
// concepts that have no Tart equivalent: Tart VMs use virtiofs shares
// configured at clone time, not live bind mounts.
func (r *Runtime) GetSyncDirectory(ctx context.Context, name string) (string, error) {
	return "", provider.ErrUnsupported
}

func (r *Runtime) UpdateMounts(ctx context.Context, name string, mounts []state.Mount) error {
	return provider.ErrUnsupported
}

func (r *Runtime) RecreateWithMounts(ctx context.Context, spec provider.CreateSpec) error {
	return provider.ErrUnsupported
}

// CheckContainerHealth probes via a trivial SSH-executed command, the same
// retry/spacing contract as the docker provider, generalized to any
// provider.
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
		if err := r.Exec(ctx, name, provider.ExecOptions{Command: []string{"true"}}); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return vmerr.New(vmerr.KindProvider, "tart.health", fmt.Errorf("vm %q did not become healthy after %d attempts: %w", name, retries, lastErr))
}

// PushFile uploads a local file into the VM via SFTP, used to propagate
// host dotfiles and ssh config into a freshly created VM.
func (r *Runtime) PushFile(ctx context.Context, name, localPath, remotePath string, contents []byte) error {
	client, err := r.dial(ctx, name)
	if err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "tart.push_file", name, err)
	}
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "tart.push_file", name, err)
	}
	defer sc.Close()

	f, err := sc.Create(remotePath)
	if err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "tart.push_file", remotePath, err)
	}
	defer f.Close()
	if _, err := f.Write(contents); err != nil {
		return vmerr.Wrap(vmerr.KindProvider, "tart.push_file", remotePath, err)
	}
	return nil
}
