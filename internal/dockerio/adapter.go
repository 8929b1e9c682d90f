package dockerio

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerClient adapts *client.Client to the Client interface this package
// depends on, the same wrapping role the teacher's DockerCommand.Client
// field plays around the real SDK client.
type DockerClient struct {
	Raw *client.Client
}

// NewDockerClient builds a client.Client from the environment, the way the
// teacher's NewDockerCommand does via client.NewClientWithOpts(client.FromEnv, ...).
func NewDockerClient() (*DockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerClient{Raw: cli}, nil
}

func (d *DockerClient) ContainerExecCreate(ctx context.Context, containerID string, config container.ExecOptions) (container.ExecCreateResponse, error) {
	return d.Raw.ContainerExecCreate(ctx, containerID, config)
}

func (d *DockerClient) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (ContainerExecAttachResult, error) {
	resp, err := d.Raw.ContainerExecAttach(ctx, execID, config)
	if err != nil {
		return nil, err
	}
	return &hijackedAdapter{reader: resp.Reader, closer: resp.Conn}, nil
}

func (d *DockerClient) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return d.Raw.ContainerExecInspect(ctx, execID)
}

func (d *DockerClient) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error {
	return d.Raw.CopyToContainer(ctx, containerID, dstPath, content, options)
}

func (d *DockerClient) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	return d.Raw.CopyFromContainer(ctx, containerID, srcPath)
}

// hijackedAdapter narrows types.HijackedResponse (a bufio.Reader plus a
// net.Conn to close) to the small ContainerExecAttachResult surface
// internal/dockerio actually reads.
type hijackedAdapter struct {
	reader io.Reader
	closer io.Closer
}

func (h *hijackedAdapter) Reader() io.Reader { return h.reader }
func (h *hijackedAdapter) Close()            { h.closer.Close() }
