package checker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	workDir = "/workspace"

	// timeoutExitCode is what coreutils timeout exits with when it kills
	timeoutExitCode = 124

	// grace covers container start and log collection on top of the case timeout
	grace = 5 * time.Second
)

// DockerBackend runs every case as the command of a one-shot container
type DockerBackend struct {
	cli *client.Client
}

// NewDockerBackend connects to the daemon named by the DOCKER_* environment
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker not reachable: %w", err)
	}
	return &DockerBackend{cli: cli}, nil
}

// Exec creates a container whose command is cmd wrapped in coreutils
// timeout, copies the files into its working directory, runs it to
// completion and removes it.
func (b *DockerBackend) Exec(ctx context.Context, spec Spec, files map[string]string, cmd []string, timeout time.Duration) (*ExecResult, error) {
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}
	if err := b.pull(ctx, spec.Image); err != nil {
		return nil, err
	}

	created, err := b.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Cmd:             timeoutCommand(cmd, timeout),
		WorkingDir:      workDir,
		NetworkDisabled: spec.NetworkOff,
		Labels:          map[string]string{"stagegrade.checker": "true"},
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:   int64(spec.MemoryMB) << 20,
			NanoCPUs: int64(spec.CPULimit * 1e9),
		},
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	id := created.ID
	defer func() {
		_ = b.cli.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true})
	}()

	archive, err := tarFiles(files)
	if err != nil {
		return nil, err
	}
	if err := b.cli.CopyToContainer(ctx, id, workDir, archive, container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("copy files: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout+grace)
	defer cancel()

	start := time.Now()
	if err := b.cli.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	res := &ExecResult{}
	statusCh, errCh := b.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		res.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		if runCtx.Err() == nil || ctx.Err() != nil {
			return nil, fmt.Errorf("wait container: %w", err)
		}
		// the container outlived timeout itself
		res.ExitCode = timeoutExitCode
	}
	res.Duration = time.Since(start)
	res.TimedOut = res.ExitCode == timeoutExitCode

	logs, err := b.cli.ContainerLogs(context.WithoutCancel(ctx), id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	defer logs.Close()
	res.Stdout, res.Stderr, err = splitStreams(logs)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return res, nil
}

// Close releases the docker client
func (b *DockerBackend) Close() error {
	return b.cli.Close()
}

func (b *DockerBackend) pull(ctx context.Context, ref string) error {
	if _, err := b.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	rc, err := b.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func timeoutCommand(cmd []string, timeout time.Duration) []string {
	secs := max(int(timeout.Round(time.Second)/time.Second), 1)
	return append([]string{"timeout", strconv.Itoa(secs)}, cmd...)
}

// splitStreams separates the multiplexed log stream of a non-tty container
func splitStreams(r io.Reader) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &errOut, r); err != nil {
		return "", "", err
	}
	return out.String(), errOut.String(), nil
}

func tarFiles(files map[string]string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			return nil, fmt.Errorf("tar %s: %w", name, err)
		}
		if _, err := io.WriteString(tw, content); err != nil {
			return nil, fmt.Errorf("tar %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("tar: %w", err)
	}
	return &buf, nil
}
