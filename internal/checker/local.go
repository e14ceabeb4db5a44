package checker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// LocalBackend runs cases with a locally installed R (for development).
// The Spec image and limits are ignored.
type LocalBackend struct {
	workDir string
}

// NewLocalBackend creates a local backend; temp directories go to workDir,
// or the system default when empty
func NewLocalBackend(workDir string) *LocalBackend {
	return &LocalBackend{workDir: workDir}
}

func (b *LocalBackend) Exec(ctx context.Context, spec Spec, files map[string]string, cmd []string, timeout time.Duration) (*ExecResult, error) {
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}
	dir, err := createTempCodeDir(b.workDir, files)
	if err != nil {
		return nil, fmt.Errorf("prepare files: %w", err)
	}
	defer os.RemoveAll(dir)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(execCtx, cmd[0], cmd[1:]...)
	c.Dir = dir
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = time.Second

	start := time.Now()
	runErr := c.Run()
	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("exec %s: %w", cmd[0], runErr)
	}
	return res, nil
}

func (b *LocalBackend) Close() error {
	return nil
}

func createTempCodeDir(base string, files map[string]string) (string, error) {
	dir, err := os.MkdirTemp(base, "stagegrade-check-*")
	if err != nil {
		return "", err
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}
