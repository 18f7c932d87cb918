package exec

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"codesync/internal/models"
)

const workDir = "/workspace"

type dockerClient interface {
	ImageInspectWithRaw(ctx context.Context, image string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.ContainerCreateCreatedBody, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerKill(ctx context.Context, containerID string, signal string) error
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options types.CopyToContainerOptions) error
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config types.ExecStartCheck) error
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
}

var newDockerClient = func() (dockerClient, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// DockerExecutor runs code in a throwaway container on the local daemon.
type DockerExecutor struct {
	cli    dockerClient
	limits Limits
}

func NewDockerExecutor(limits Limits) (*DockerExecutor, error) {
	cli, err := newDockerClient()
	if err != nil {
		return nil, translateDockerErr(err)
	}
	return &DockerExecutor{cli: cli, limits: limits.withDefaults()}, nil
}

func (d *DockerExecutor) Execute(ctx context.Context, req models.RunRequest) (models.RunResult, error) {
	lang, err := ParseLanguage(req.Language)
	if err != nil {
		return models.RunResult{}, err
	}
	tc := toolchains[lang]
	if err := d.ensureImage(ctx, tc.image); err != nil {
		return models.RunResult{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, d.limits.WallTime)
	defer cancel()

	start := time.Now()
	var stdout, stderr strings.Builder
	exit, err := d.run(runCtx, tc, []byte(req.Code), &stdout, &stderr)
	result := models.RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exit,
		TimeMs:   time.Since(start).Milliseconds(),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		return models.RunResult{}, err
	}
	return result, nil
}

func (d *DockerExecutor) run(ctx context.Context, tc toolchain, code []byte, stdout, stderr io.Writer) (int, error) {
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   d.limits.MemoryB,
			NanoCPUs: d.limits.NanoCPUs,
		},
		SecurityOpt: []string{"no-new-privileges"},
	}
	conf := &container.Config{
		Image:      tc.image,
		Cmd:        []string{"/bin/sh", "-c", "sleep infinity"},
		WorkingDir: workDir,
		Env:        []string{"PYTHONDONTWRITEBYTECODE=1"},
	}

	created, err := d.cli.ContainerCreate(ctx, conf, hostCfg, nil, nil, "")
	if err != nil {
		return -1, translateDockerErr(err)
	}
	cid := created.ID
	defer func() {
		_ = d.cli.ContainerRemove(context.Background(), cid, types.ContainerRemoveOptions{Force: true})
	}()

	if err := d.cli.ContainerStart(ctx, cid, types.ContainerStartOptions{}); err != nil {
		return -1, translateDockerErr(err)
	}
	if err := d.copyFile(ctx, cid, tc.fileName, code); err != nil {
		d.kill(cid)
		return -1, translateDockerErr(err)
	}

	for _, cmd := range tc.cmds {
		exit, err := d.exec(ctx, cid, cmd, stdout, stderr)
		if err != nil {
			d.kill(cid)
			return -1, err
		}
		if exit != 0 {
			return exit, nil
		}
	}
	return 0, nil
}

func (d *DockerExecutor) exec(ctx context.Context, cid string, cmd []string, stdout, stderr io.Writer) (int, error) {
	created, err := d.cli.ContainerExecCreate(ctx, cid, types.ExecConfig{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, translateDockerErr(err)
	}
	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return -1, translateDockerErr(err)
	}
	defer attach.Close()
	if err := d.cli.ContainerExecStart(ctx, created.ID, types.ExecStartCheck{}); err != nil {
		return -1, translateDockerErr(err)
	}

	_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, translateDockerErr(err)
	}
	return inspect.ExitCode, nil
}

func (d *DockerExecutor) copyFile(ctx context.Context, cid, name string, content []byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
		return err
	}
	if _, err := tw.Write(content); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return d.cli.CopyToContainer(ctx, cid, workDir, &buf, types.CopyToContainerOptions{})
}

func (d *DockerExecutor) ensureImage(ctx context.Context, image string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return translateDockerErr(err)
	}
	pullCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	reader, err := d.cli.ImagePull(pullCtx, image, types.ImagePullOptions{})
	if err != nil {
		return translateDockerErr(err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (d *DockerExecutor) kill(cid string) {
	_ = d.cli.ContainerKill(context.Background(), cid, "SIGKILL")
}

func translateDockerErr(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrConnectionFailed(err) {
		return ErrSandboxUnavailable
	}
	return err
}
