// Package dockerio streams bytes into and out of a running container over
// the Docker-compatible remote API, grounded on
// original_source/langgraph_sandbox/sandbox/io.py (put_bytes,
// file_exists_in_container) and session_manager.py's _copy_from_container
// retry ladder. The client construction and exec-run call shape follow the
// teacher's pkg/commands/docker.go and attaching.go.
package dockerio

import (
	"bytes"
	"context"
	"io"

	"github.com/docker/docker/api/types/container"

	"github.com/sandboxd/sandboxd/internal/apperr"
)

// Client is the narrow slice of *client.Client this package needs, so tests
// can substitute dockerfake.Client without a real daemon — the teacher's
// own runtime_mock.go/dummies.go fake-constructor idiom, rebuilt against
// the Docker (not Podman) surface.
type Client interface {
	ContainerExecCreate(ctx context.Context, containerID string, config container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (ContainerExecAttachResult, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
}

// ContainerExecAttachResult mirrors the subset of types.HijackedResponse
// this package reads: a combined stdout/stderr stream, and a Close.
type ContainerExecAttachResult interface {
	Reader() io.Reader
	Close()
}

// ExecResult is the outcome of a non-interactive in-container command run.
type ExecResult struct {
	Output   string
	ExitCode int
}

// ExecRun runs cmd inside containerID to completion and returns its combined
// output and exit code, grounded on session_manager.py's repeated
// `container.exec_run([...], demux=True)` calls and the teacher's
// attaching.go createExec/ContainerExecAttach pairing, including its `Tty:
// true` on both calls: without it the Docker API multiplexes stdout/stderr
// behind 8-byte stream-frame headers, which would corrupt this package's
// plain io.Copy read of the attached stream.
func ExecRun(ctx context.Context, cli Client, containerID string, cmd []string) (ExecResult, error) {
	created, err := cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
	})
	if err != nil {
		return ExecResult{}, apperr.Wrapf(apperr.KindMkdirFailed, err, "create exec for %s", containerID)
	}

	attached, err := cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return ExecResult{}, apperr.Wrapf(apperr.KindMkdirFailed, err, "attach exec for %s", containerID)
	}
	defer attached.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, attached.Reader()); err != nil {
		return ExecResult{}, apperr.Wrapf(apperr.KindMkdirFailed, err, "read exec output for %s", containerID)
	}

	inspect, err := cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, apperr.Wrapf(apperr.KindMkdirFailed, err, "inspect exec for %s", containerID)
	}

	return ExecResult{Output: buf.String(), ExitCode: inspect.ExitCode}, nil
}
