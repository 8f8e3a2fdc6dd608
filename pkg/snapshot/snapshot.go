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

// Package snapshot implements the snapshot engine: parallel
// per-service image commit, per-volume zstd archive, and Dockerfile-mode
// base-image snapshots, all scoped either globally (`@name`) or to the
// active project.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/vmctl/vm/pkg/codecutil"
	"github.com/vmctl/vm/pkg/lockfile"
	"github.com/vmctl/vm/pkg/vmerr"
)

// ServiceImage records one committed+saved compose service image.
type ServiceImage struct {
	Name        string        `json:"name"`
	ImageTag    string        `json:"image_tag"`
	ImageFile   string        `json:"image_file"`
	ImageDigest digest.Digest `json:"image_digest,omitempty"`
}

// VolumeArchive records one compressed volume archive.
type VolumeArchive struct {
	Name        string `json:"name"`
	ArchiveFile string `json:"archive_file"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Metadata is the metadata.json contract.
type Metadata struct {
	Name           string          `json:"name"`
	CreatedAt      time.Time       `json:"created_at"`
	Description    string          `json:"description,omitempty"`
	ProjectName    string          `json:"project_name"`
	ProjectDir     string          `json:"project_dir"`
	GitCommit      string          `json:"git_commit,omitempty"`
	GitDirty       bool            `json:"git_dirty"`
	GitBranch      string          `json:"git_branch,omitempty"`
	Services       []ServiceImage  `json:"services"`
	Volumes        []VolumeArchive `json:"volumes"`
	ComposeFile    string          `json:"compose_file"`
	VMConfigFile   string          `json:"vm_config_file"`
	TotalSizeBytes int64           `json:"total_size_bytes"`

	// BaseManifest is populated only for Dockerfile-mode snapshots, whose
	// single synthetic "base" service is described as an OCI manifest
	// rather than a compose-derived image list.
	BaseManifest *ispec.Manifest `json:"base_manifest,omitempty"`
}

// ResolveScope implements scope rule: a name prefixed with
// "@" is global; otherwise it's scoped to the current project.
func ResolveScope(name, projectName string) (scopeDir, bareName string) {
	if strings.HasPrefix(name, "@") {
		return "global", strings.TrimPrefix(name, "@")
	}
	return filepath.Join("projects", projectName), name
}

// Engine ties the snapshot operations to a snapshots root directory and a
// docker/git shelling strategy, matching the docker provider's approach of
// building argv incrementally and running via os/exec.
type Engine struct {
	Root   string // paths.Paths.SnapshotsRoot()
	NewCmd func(name string, arg ...string) *exec.Cmd
}

func NewEngine(root string) *Engine {
	return &Engine{Root: root, NewCmd: exec.Command}
}

func (e *Engine) dir(scopeDir, name string) string {
	return filepath.Join(e.Root, scopeDir, name)
}

func (e *Engine) run(ctx context.Context, op string, args ...string) (string, error) {
	cmd := e.NewCmd(args[0], args[1:]...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", vmerr.Wrap(vmerr.KindSnapshot, op, strings.Join(args, " "), fmt.Errorf("%w: %s", err, errOut.String()))
	}
	return out.String(), nil
}

// boundedEach runs fn(item) for every item with concurrency
// min(runtime.NumCPU(), len(items)) — "Optimal concurrency",
// shared by the image-commit and volume-archive loops.
func boundedEach[T any](ctx context.Context, items []T, fn func(context.Context, T) error) error {
	if len(items) == 0 {
		return nil
	}
	limit := runtime.NumCPU()
	if limit > len(items) {
		limit = len(items)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		item := item
		g.Go(func() error { return fn(gctx, item) })
	}
	return g.Wait()
}

// CreateOptions configures a default-mode snapshot.
type CreateOptions struct {
	Name        string
	Description string
	Quiesce     bool
	Force       bool
	ProjectDir  string
	ProjectName string
	ComposeFile string
	VMConfig    string
}

// Create implements default-mode create, steps 1-10.
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (*Metadata, error) {
	scopeDir, bare := ResolveScope(opts.Name, opts.ProjectName)
	dir := e.dir(scopeDir, bare)

	if _, err := os.Stat(dir); err == nil {
		if !opts.Force {
			return nil, vmerr.New(vmerr.KindSnapshot, "snapshot.create", fmt.Errorf(
				"snapshot %q already exists; use --force to overwrite", opts.Name)).WithHint("Use --force to overwrite")
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, vmerr.Wrap(vmerr.KindFilesystem, "snapshot.create", dir, err)
		}
	}

	var meta *Metadata
	err := lockfile.WithLock(dir+".lock", func() error {
		for _, sub := range []string{"images", "volumes", "compose"} {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
				return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.create", dir, err)
			}
		}

		services, err := e.composeServices(ctx, opts)
		if err != nil {
			return err
		}

		if opts.Quiesce {
			for _, svc := range services {
				_, _ = e.run(ctx, "snapshot.quiesce", "docker", "compose", "-f", opts.ComposeFile, "pause", svc)
			}
			defer func() {
				for _, svc := range services {
					_, _ = e.run(ctx, "snapshot.unquiesce", "docker", "compose", "-f", opts.ComposeFile, "unpause", svc)
				}
			}()
		}

		images := make([]ServiceImage, len(services))
		if err := boundedEach(ctx, indices(len(services)), func(ctx context.Context, i int) error {
			svc := services[i]
			img, err := e.commitAndSaveService(ctx, dir, opts, svc)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		}); err != nil {
			return err
		}

		volumeNames, err := e.composeVolumes(ctx, opts)
		if err != nil {
			return err
		}
		volumes := make([]VolumeArchive, len(volumeNames))
		if err := boundedEach(ctx, indices(len(volumeNames)), func(ctx context.Context, i int) error {
			v, err := e.archiveVolume(ctx, dir, volumeNames[i])
			if err != nil {
				return err
			}
			volumes[i] = v
			return nil
		}); err != nil {
			return err
		}

		composeCopy := filepath.Join(dir, "compose", "docker-compose.yml")
		if err := copyFile(opts.ComposeFile, composeCopy); err != nil {
			return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.create", opts.ComposeFile, err)
		}
		vmConfigCopy := filepath.Join(dir, "compose", "vm.yaml")
		if err := copyFile(opts.VMConfig, vmConfigCopy); err != nil {
			return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.create", opts.VMConfig, err)
		}

		commit, branch, dirty, gitErr := e.gitInfo(ctx, opts.ProjectDir)
		if gitErr != nil {
			// Not being a git repo at all is not fatal; git_commit just
			// stays empty.
			commit, branch, dirty = "", "", false
		}

		total, err := parallelDirSize(ctx, dir)
		if err != nil {
			return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.create", dir, err)
		}

		meta = &Metadata{
			Name:           bare,
			CreatedAt:      time.Now().UTC(),
			Description:    opts.Description,
			ProjectName:    opts.ProjectName,
			ProjectDir:     opts.ProjectDir,
			GitCommit:      commit,
			GitDirty:       dirty,
			GitBranch:      branch,
			Services:       images,
			Volumes:        volumes,
			ComposeFile:    composeCopy,
			VMConfigFile:   vmConfigCopy,
			TotalSizeBytes: total,
		}
		return writeMetadata(filepath.Join(dir, "metadata.json"), meta)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (e *Engine) composeServices(ctx context.Context, opts CreateOptions) ([]string, error) {
	out, err := e.run(ctx, "snapshot.services", "docker", "compose", "-f", opts.ComposeFile, "ps", "--services")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

func (e *Engine) composeVolumes(ctx context.Context, opts CreateOptions) ([]string, error) {
	out, err := e.run(ctx, "snapshot.volumes", "docker", "compose", "-f", opts.ComposeFile, "config", "--volumes")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (e *Engine) commitAndSaveService(ctx context.Context, dir string, opts CreateOptions, svc string) (ServiceImage, error) {
	containerID, err := e.run(ctx, "snapshot.container_id", "docker", "compose", "-f", opts.ComposeFile, "ps", "-q", svc)
	if err != nil {
		return ServiceImage{}, err
	}
	containerID = strings.TrimSpace(containerID)
	tag := fmt.Sprintf("vm-snapshot/%s/%s:%s", opts.ProjectName, svc, opts.Name)
	if _, err := e.run(ctx, "snapshot.commit", "docker", "commit", containerID, tag); err != nil {
		return ServiceImage{}, err
	}
	imageFile := filepath.Join(dir, "images", svc+".tar")
	if _, err := e.run(ctx, "snapshot.save", "docker", "save", "-o", imageFile, tag); err != nil {
		return ServiceImage{}, err
	}
	rawDigest, err := e.run(ctx, "snapshot.digest", "docker", "inspect", "--format", "{{.Id}}", tag)
	if err != nil {
		return ServiceImage{}, err
	}
	d, err := digest.Parse(strings.TrimSpace(rawDigest))
	if err != nil {
		// Some daemons report a bare sha256 without the "sha256:" scheme
		// prefix `docker inspect` normally includes; tolerate that here
		// rather than failing an otherwise-successful commit.
		d = digest.Digest("sha256:" + strings.TrimPrefix(strings.TrimSpace(rawDigest), "sha256:"))
		if verr := d.Validate(); verr != nil {
			d = ""
		}
	}
	return ServiceImage{Name: svc, ImageTag: tag, ImageFile: imageFile, ImageDigest: d}, nil
}

func (e *Engine) archiveVolume(ctx context.Context, dir, volume string) (VolumeArchive, error) {
	archiveFile := filepath.Join(dir, "volumes", volume+".tar.zst")
	// Ephemeral alpine container pipes tar through zstd -3 -T0.
	shellCmd := fmt.Sprintf("tar -C /volume -c . | zstd -3 -T0 -o /out/%s.tar.zst", volume)
	if _, err := e.run(ctx, "snapshot.archive_volume", "docker", "run", "--rm",
		"-v", volume+":/volume:ro",
		"-v", filepath.Dir(archiveFile)+":/out",
		"alpine", "sh", "-c", "apk add --no-cache zstd >/dev/null 2>&1; "+shellCmd); err != nil {
		return VolumeArchive{}, err
	}
	info, err := os.Stat(archiveFile)
	if err != nil {
		return VolumeArchive{}, vmerr.Wrap(vmerr.KindSnapshot, "snapshot.archive_volume", archiveFile, err)
	}
	return VolumeArchive{Name: volume, ArchiveFile: archiveFile, SizeBytes: info.Size()}, nil
}

// gitInfo gathers git state with a single shelled invocation.
func (e *Engine) gitInfo(ctx context.Context, projectDir string) (commit, branch string, dirty bool, err error) {
	cmd := e.NewCmd("git", "-C", projectDir, "status", "--porcelain=v2", "--branch")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", "", false, err
	}
	for _, line := range strings.Split(out.String(), "\n") {
		switch {
		case strings.HasPrefix(line, "# branch.oid"):
			commit = strings.TrimSpace(strings.TrimPrefix(line, "# branch.oid"))
		case strings.HasPrefix(line, "# branch.head"):
			branch = strings.TrimSpace(strings.TrimPrefix(line, "# branch.head"))
		case strings.HasPrefix(line, "#"):
			// other header line, ignore
		case strings.TrimSpace(line) != "":
			dirty = true
		}
	}
	return commit, branch, dirty, nil
}

// parallelDirSize sums file sizes under dir, fanning out one goroutine per
// top-level entry.
func parallelDirSize(ctx context.Context, dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	sizes := make([]int64, len(entries))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			var total int64
			err := filepath.WalkDir(filepath.Join(dir, entry.Name()), func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				info, err := d.Info()
				if err != nil {
					return err
				}
				total += info.Size()
				return nil
			})
			sizes[i] = total
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total int64
	for _, s := range sizes {
		total += s
	}
	return total, nil
}

func copyFile(src, dst string) error {
	if src == "" {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func writeMetadata(path string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return vmerr.Wrap(vmerr.KindSnapshot, "snapshot.metadata", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.metadata", path, err)
	}
	return nil
}

// DockerfileOptions configures a Dockerfile-mode snapshot.
type DockerfileOptions struct {
	Name           string
	Description    string
	Force          bool
	ProjectName    string
	DockerfilePath string
	BuildContext   string
	BuildArgs      map[string]string
}

// ParseBuildArgs parses `KEY=VALUE` tokens; a token without `=` is a user
// error.
func ParseBuildArgs(tokens []string) (map[string]string, error) {
	args := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, vmerr.New(vmerr.KindValidation, "snapshot.build_args", fmt.Errorf("malformed build arg %q: expected KEY=VALUE", tok))
		}
		args[k] = v
	}
	return args, nil
}

// CreateFromDockerfile implements Dockerfile-mode create.
func (e *Engine) CreateFromDockerfile(ctx context.Context, opts DockerfileOptions) (*Metadata, error) {
	if _, err := os.Stat(opts.DockerfilePath); err != nil {
		return nil, vmerr.New(vmerr.KindSnapshot, "snapshot.create_dockerfile", fmt.Errorf("Dockerfile not found: %s", opts.DockerfilePath))
	}
	scopeDir, bare := ResolveScope(opts.Name, opts.ProjectName)
	dir := e.dir(scopeDir, bare)
	if _, err := os.Stat(dir); err == nil {
		if !opts.Force {
			return nil, vmerr.New(vmerr.KindSnapshot, "snapshot.create_dockerfile", fmt.Errorf(
				"snapshot %q already exists; use --force to overwrite", opts.Name)).WithHint("Use --force to overwrite")
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, vmerr.Wrap(vmerr.KindFilesystem, "snapshot.create_dockerfile", dir, err)
		}
	}

	var meta *Metadata
	err := lockfile.WithLock(dir+".lock", func() error {
		if err := os.MkdirAll(filepath.Join(dir, "images"), 0755); err != nil {
			return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.create_dockerfile", dir, err)
		}
		tag := fmt.Sprintf("vm-snapshot/%s/%s:latest", scopeDir, bare)
		args := []string{"docker", "build", "-f", opts.DockerfilePath, "-t", tag}
		for k, v := range opts.BuildArgs {
			args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, v))
		}
		args = append(args, opts.BuildContext)
		if _, err := e.run(ctx, "snapshot.build", args...); err != nil {
			return err
		}

		imageFile := filepath.Join(dir, "images", "base.tar")
		if _, err := e.run(ctx, "snapshot.save", "docker", "save", "-o", imageFile, tag); err != nil {
			return err
		}
		rawDigest, err := e.run(ctx, "snapshot.digest", "docker", "inspect", "--format", "{{.Id}}", tag)
		if err != nil {
			return err
		}
		d, _ := digest.Parse(strings.TrimSpace(rawDigest))

		manifest := &ispec.Manifest{
			Versioned: specs.Versioned{SchemaVersion: 2},
			MediaType: ispec.MediaTypeImageManifest,
			Config:    ispec.Descriptor{MediaType: ispec.MediaTypeImageConfig, Digest: d},
		}

		meta = &Metadata{
			Name:        bare,
			CreatedAt:   time.Now().UTC(),
			Description: opts.Description,
			ProjectName: opts.ProjectName,
			Services: []ServiceImage{
				{Name: "base", ImageTag: tag, ImageFile: imageFile, ImageDigest: d},
			},
			BaseManifest: manifest,
		}
		total, err := parallelDirSize(ctx, dir)
		if err != nil {
			return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.create_dockerfile", dir, err)
		}
		meta.TotalSizeBytes = total
		return writeMetadata(filepath.Join(dir, "metadata.json"), meta)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// List enumerates snapshots across {global, current project} scopes.
func (e *Engine) List(projectName string) ([]string, error) {
	var names []string
	for _, scope := range []string{"global", filepath.Join("projects", projectName)} {
		scopeRoot := filepath.Join(e.Root, scope)
		entries, err := os.ReadDir(scopeRoot)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, vmerr.Wrap(vmerr.KindSnapshot, "snapshot.list", scopeRoot, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				prefix := ""
				if scope == "global" {
					prefix = "@"
				}
				names = append(names, prefix+entry.Name())
			}
		}
	}
	return names, nil
}

// Load reads a snapshot's metadata.json.
func (e *Engine) Load(name, projectName string) (*Metadata, error) {
	scopeDir, bare := ResolveScope(name, projectName)
	path := filepath.Join(e.dir(scopeDir, bare), "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vmerr.New(vmerr.KindNotFound, "snapshot.load", fmt.Errorf("snapshot %q not found", name))
		}
		return nil, vmerr.Wrap(vmerr.KindSnapshot, "snapshot.load", path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, vmerr.Wrap(vmerr.KindSnapshot, "snapshot.load", path, err)
	}
	return &meta, nil
}

// Restore mirrors Create: load images, recreate volumes, restore compose
// config.
func (e *Engine) Restore(ctx context.Context, name, projectName string) error {
	scopeDir, bare := ResolveScope(name, projectName)
	dir := e.dir(scopeDir, bare)
	meta, err := e.Load(name, projectName)
	if err != nil {
		return err
	}

	return lockfile.WithLock(dir+".lock", func() error {
		if err := boundedEach(ctx, meta.Services, func(ctx context.Context, svc ServiceImage) error {
			_, err := e.run(ctx, "snapshot.restore_image", "docker", "load", "-i", svc.ImageFile)
			return err
		}); err != nil {
			return err
		}

		if err := boundedEach(ctx, meta.Volumes, func(ctx context.Context, vol VolumeArchive) error {
			ok, err := codecutil.VerifyZstdMagic(vol.ArchiveFile)
			if err != nil {
				return err
			}
			if !ok {
				return vmerr.New(vmerr.KindSnapshot, "snapshot.restore_volume", fmt.Errorf("archive %q is not a valid zstd stream", vol.ArchiveFile))
			}
			_, err = e.run(ctx, "snapshot.restore_volume", "docker", "run", "--rm",
				"-v", vol.Name+":/volume",
				"-v", filepath.Dir(vol.ArchiveFile)+":/in:ro",
				"alpine", "sh", "-c",
				fmt.Sprintf("apk add --no-cache zstd >/dev/null 2>&1; zstd -d -c /in/%s.tar.zst | tar -C /volume -x", vol.Name))
			return err
		}); err != nil {
			return err
		}

		if meta.ComposeFile != "" {
			if err := copyFile(meta.ComposeFile, filepath.Join(meta.ProjectDir, "docker-compose.yml")); err != nil {
				return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.restore", meta.ComposeFile, err)
			}
		}
		if meta.VMConfigFile != "" {
			if err := copyFile(meta.VMConfigFile, filepath.Join(meta.ProjectDir, "vm.yaml")); err != nil {
				return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.restore", meta.VMConfigFile, err)
			}
		}
		return nil
	})
}

// Delete removes a snapshot's scope directory.
func (e *Engine) Delete(name, projectName string) error {
	scopeDir, bare := ResolveScope(name, projectName)
	dir := e.dir(scopeDir, bare)
	if err := os.RemoveAll(dir); err != nil {
		return vmerr.Wrap(vmerr.KindFilesystem, "snapshot.delete", dir, err)
	}
	os.Remove(dir + ".lock")
	return nil
}
