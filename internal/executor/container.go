package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
	"playground-engine/internal/sandbox"
)

// containerBoundary runs one source file in one container.
type containerBoundary struct {
	exec   *DockerExecutor
	spec   language.Spec
	limits sandbox.Limits

	mu          sync.Mutex
	containerID string
	tempDir     string

	started    atomic.Bool
	terminated atomic.Bool
}

func (b *containerBoundary) Run(ctx context.Context, source string, emit sandbox.Emitter) (sandbox.Outcome, error) {
	if !b.started.CompareAndSwap(false, true) {
		return sandbox.Outcome{}, errors.New("boundary already used")
	}
	if b.terminated.Load() {
		return sandbox.Outcome{}, sandbox.ErrTerminated
	}

	tempDir, err := os.MkdirTemp("", "exec-*")
	if err != nil {
		return sandbox.Outcome{}, errors.Wrap(err, "create temp dir")
	}
	b.mu.Lock()
	b.tempDir = tempDir
	b.mu.Unlock()

	codePath := filepath.Join(tempDir, b.spec.FileName)
	if err := os.WriteFile(codePath, []byte(source), 0644); err != nil {
		return sandbox.Outcome{}, errors.Wrap(err, "write code file")
	}

	containerID, err := b.create(ctx, tempDir)
	if err != nil {
		return sandbox.Outcome{}, err
	}
	b.mu.Lock()
	b.containerID = containerID
	b.mu.Unlock()

	// Terminate may have run before the ID was known.
	if b.terminated.Load() {
		return sandbox.Outcome{}, sandbox.ErrTerminated
	}

	attach, err := b.exec.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return sandbox.Outcome{}, errors.Wrap(err, "container attach")
	}
	defer attach.Close()

	stdout := newLineWriter(sandbox.KindLog, emit)
	stderr := newLineWriter(sandbox.KindError, emit)

	outputDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		outputDone <- err
	}()

	if err := b.exec.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return sandbox.Outcome{}, errors.Wrap(err, "container start")
	}
	// A Terminate between create and start found nothing running to kill.
	if b.terminated.Load() {
		b.kill()
	}

	waitCh, errCh := b.exec.cli.ContainerWait(
		context.WithoutCancel(ctx),
		containerID,
		container.WaitConditionNotRunning,
	)

	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return sandbox.Outcome{}, errors.Wrap(err, "container wait")
		}
	case status := <-waitCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		b.terminated.Store(true)
		b.kill()
		select {
		case <-waitCh:
		case err := <-errCh:
			if err != nil {
				b.exec.logger.Warn("container wait failed after kill", zap.String("container_id", containerID), zap.Error(err))
			}
		}
	}

	<-outputDone
	stdout.Flush()
	stderr.Flush()

	if b.terminated.Load() {
		return sandbox.Outcome{}, sandbox.ErrTerminated
	}
	if exitCode != 0 {
		return sandbox.Outcome{}, &sandbox.ThrowError{
			Message:  fmt.Sprintf("exit status %d", exitCode),
			ExitCode: exitCode,
		}
	}
	return sandbox.Outcome{}, nil
}

func (b *containerBoundary) create(ctx context.Context, tempDir string) (string, error) {
	resp, err := b.exec.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:           b.spec.Image,
			Cmd:             command(b.spec),
			WorkingDir:      workspaceDir,
			Tty:             false,
			OpenStdin:       false,
			AttachStdout:    true,
			AttachStderr:    true,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			AutoRemove: false,
			Resources: container.Resources{
				Memory:    memoryBytes(b.limits),
				NanoCPUs:  b.exec.cfg.NanoCPUs,
				PidsLimit: ptr(b.exec.cfg.PidsLimit),
			},
			ReadonlyRootfs: true,
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
			Tmpfs: map[string]string{
				"/tmp":            "rw,size=32m,noexec,nosuid",
				language.BuildDir: "rw,size=64m,exec,nosuid",
			},
			Mounts: []mount.Mount{
				{
					Type:     mount.TypeBind,
					Source:   tempDir,
					Target:   workspaceDir,
					ReadOnly: true,
				},
			},
		},
		nil, nil, "",
	)
	if err != nil {
		return "", errors.Wrap(err, "container create")
	}
	return resp.ID, nil
}

// Terminate kills the container. Run observes the exit through its wait.
func (b *containerBoundary) Terminate() {
	if b.terminated.CompareAndSwap(false, true) {
		b.kill()
	}
}

// kill sends SIGKILL to the container once it has been created.
func (b *containerBoundary) kill() {
	b.mu.Lock()
	id := b.containerID
	b.mu.Unlock()
	if id == "" {
		return
	}
	if err := b.exec.cli.ContainerKill(context.Background(), id, "KILL"); err != nil {
		b.exec.logger.Warn("failed to kill container", zap.String("container_id", id), zap.Error(err))
	}
}

// Close always removes the container and its workspace.
func (b *containerBoundary) Close() error {
	b.mu.Lock()
	id, tempDir := b.containerID, b.tempDir
	b.mu.Unlock()

	if id != "" {
		err := b.exec.cli.ContainerRemove(
			context.Background(),
			id,
			container.RemoveOptions{Force: true},
		)
		if err != nil {
			b.exec.logRemoveFailure(id, err)
		}
	}
	if tempDir != "" {
		if err := os.RemoveAll(tempDir); err != nil {
			b.exec.logger.Warn("failed to remove workspace", zap.String("dir", tempDir), zap.Error(err))
		}
	}
	return nil
}
