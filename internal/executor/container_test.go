package executor

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
	"playground-engine/internal/sandbox"
)

// fakeDaemon runs one container. Kill only succeeds while it is running,
// like the real daemon.
type fakeDaemon struct {
	client.APIClient

	mu      sync.Mutex
	running bool
	exited  bool
	kills   int
	stdout  *io.PipeWriter
	wait    chan container.WaitResponse

	// onAttach runs between create and start.
	onAttach func()
	// output is written to stdout once the container starts.
	output string
	// exitCode ends the container right after start when non-negative.
	exitCode int
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{wait: make(chan container.WaitResponse, 1), exitCode: -1}
}

func (f *fakeDaemon) ContainerCreate(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *ocispec.Platform, string) (container.CreateResponse, error) {
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeDaemon) ContainerAttach(context.Context, string, container.AttachOptions) (types.HijackedResponse, error) {
	pr, pw := io.Pipe()
	conn, _ := net.Pipe()
	f.mu.Lock()
	f.stdout = pw
	f.mu.Unlock()
	if f.onAttach != nil {
		f.onAttach()
	}
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(pr)}, nil
}

func (f *fakeDaemon) ContainerStart(context.Context, string, container.StartOptions) error {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	if f.output != "" {
		_, _ = stdcopy.NewStdWriter(f.stdout, stdcopy.Stdout).Write([]byte(f.output))
	}
	if f.exitCode >= 0 {
		f.exit(f.exitCode)
	}
	return nil
}

func (f *fakeDaemon) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return f.wait, make(chan error)
}

func (f *fakeDaemon) ContainerKill(context.Context, string, string) error {
	f.mu.Lock()
	f.kills++
	running := f.running
	f.mu.Unlock()
	if !running {
		return errors.New("container c1 is not running")
	}
	f.exit(137)
	return nil
}

func (f *fakeDaemon) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	return nil
}

func (f *fakeDaemon) exit(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exited {
		return
	}
	f.running = false
	f.exited = true
	f.wait <- container.WaitResponse{StatusCode: int64(code)}
	_ = f.stdout.Close()
}

func (f *fakeDaemon) killCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kills
}

func newTestBoundary(t *testing.T, daemon *fakeDaemon) *containerBoundary {
	t.Helper()
	exec := newDockerExecutor(daemon, Config{PidsLimit: 64}, nil)
	b := &containerBoundary{
		exec:   exec,
		spec:   language.PythonInContainer("python:3.12-alpine"),
		limits: sandbox.Limits{Timeout: time.Second},
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func runAsync(ctx context.Context, b *containerBoundary, emit sandbox.Emitter) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := b.Run(ctx, "print('hi')", emit)
		done <- err
	}()
	return done
}

func await(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("container run did not return")
		return nil
	}
}

func TestContainerRunOutputAndExitCode(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.output = "hello\nworld\n"
	daemon.exitCode = 3
	b := newTestBoundary(t, daemon)

	var mu sync.Mutex
	var lines []string
	err := await(t, runAsync(context.Background(), b, func(kind sandbox.Kind, content string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, content)
	}))

	var throw *sandbox.ThrowError
	require.ErrorAs(t, err, &throw)
	assert.Equal(t, 3, throw.ExitCode)
	assert.Equal(t, "exit status 3", throw.Message)
	assert.Equal(t, []string{"hello", "world"}, lines)
}

func TestContainerTerminateBetweenCreateAndStart(t *testing.T) {
	daemon := newFakeDaemon()
	b := newTestBoundary(t, daemon)
	daemon.onAttach = b.Terminate

	err := await(t, runAsync(context.Background(), b, func(sandbox.Kind, string) {}))

	assert.ErrorIs(t, err, sandbox.ErrTerminated)
	// The first kill hit a created container and failed; the second landed.
	assert.Equal(t, 2, daemon.killCount())
}

func TestContainerCancelKillsWhenTerminateMissed(t *testing.T) {
	daemon := newFakeDaemon()
	b := newTestBoundary(t, daemon)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, b, func(sandbox.Kind, string) {})

	require.Eventually(t, func() bool {
		daemon.mu.Lock()
		defer daemon.mu.Unlock()
		return daemon.running
	}, time.Second, 5*time.Millisecond)
	// As if Terminate had already run and its kill was lost.
	b.terminated.Store(true)
	cancel()

	assert.ErrorIs(t, await(t, done), sandbox.ErrTerminated)
	assert.Equal(t, 1, daemon.killCount())
}
