package dockerio

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	dockerfilters "github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// ContainerSpec describes a sandbox container to create, deliberately
// narrower than container.Config/HostConfig: internal/session only ever
// needs this fixed shape (one tmpfs or bind /session mount, an optional
// dataset mount, an optional published port), grounded on
// session_manager.py's start()'s containers.run(...) call.
type ContainerSpec struct {
	Image  string
	Name   string
	Mounts []MountSpec

	// TmpfsSession, if non-empty, mounts /session as tmpfs with these
	// mount options (e.g. "rw,size=1024m,mode=1777").
	TmpfsSession string

	// PublishREPLPort requests a random host port mapped to 9000/tcp;
	// when false, no port mapping is created (container network strategy).
	PublishREPLPort bool

	Network     string
	MemoryBytes int64
	NanoCPUs    int64
}

// MountSpec is one bind mount.
type MountSpec struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ContainerState is the subset of container inspect data internal/session
// acts on.
type ContainerState struct {
	ID       string
	Name     string
	Running  bool
	HostPort int // resolved host port for 9000/tcp; 0 if unmapped
}

// ContainerRuntime is the container-lifecycle surface internal/session
// depends on, layered over Client's exec/copy surface the same way the
// teacher's DockerCommand wraps *client.Client behind domain methods in
// pkg/commands/docker.go and container.go.
type ContainerRuntime interface {
	Client

	FindByName(ctx context.Context, name string) (*ContainerState, error)
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, containerID string) error
	Inspect(ctx context.Context, containerID string) (ContainerState, error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	ListByPrefix(ctx context.Context, namePrefix string) ([]ContainerState, error)
}

var replContainerPort = nat.Port("9000/tcp")

func (d *DockerClient) FindByName(ctx context.Context, name string) (*ContainerState, error) {
	insp, err := d.Raw.ContainerInspect(ctx, name)
	if err != nil {
		if client404(err) {
			return nil, nil
		}
		return nil, err
	}
	return inspectToState(insp), nil
}

func (d *DockerClient) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image: spec.Image,
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	if spec.TmpfsSession != "" {
		hostCfg.Tmpfs = map[string]string{"/session": spec.TmpfsSession}
	}
	for _, m := range spec.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.HostPath,
			Target:   m.ContainerPath,
			ReadOnly: m.ReadOnly,
		})
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	if spec.PublishREPLPort {
		cfg.ExposedPorts = nat.PortSet{replContainerPort: {}}
		hostCfg.PortBindings = nat.PortMap{
			replContainerPort: {{HostIP: "", HostPort: ""}},
		}
	}

	resp, err := d.Raw.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *DockerClient) Start(ctx context.Context, containerID string) error {
	return d.Raw.ContainerStart(ctx, containerID, container.StartOptions{})
}

func (d *DockerClient) Inspect(ctx context.Context, containerID string) (ContainerState, error) {
	insp, err := d.Raw.ContainerInspect(ctx, containerID)
	if err != nil {
		return ContainerState{}, err
	}
	return *inspectToState(insp), nil
}

func (d *DockerClient) Stop(ctx context.Context, containerID string) error {
	return d.Raw.ContainerStop(ctx, containerID, container.StopOptions{})
}

func (d *DockerClient) Remove(ctx context.Context, containerID string) error {
	return d.Raw.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (d *DockerClient) ListByPrefix(ctx context.Context, namePrefix string) ([]ContainerState, error) {
	f := dockerfilters.NewArgs()
	f.Add("name", namePrefix)
	list, err := d.Raw.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, err
	}
	out := make([]ContainerState, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		if !strings.HasPrefix(name, namePrefix) {
			continue
		}
		out = append(out, ContainerState{ID: c.ID, Name: name, Running: c.State == "running"})
	}
	return out, nil
}

func inspectToState(insp container.InspectResponse) *ContainerState {
	state := &ContainerState{
		ID:      insp.ID,
		Running: insp.State != nil && insp.State.Running,
	}
	if insp.Name != "" {
		state.Name = strings.TrimPrefix(insp.Name, "/")
	}
	if insp.NetworkSettings != nil {
		if bindings, ok := insp.NetworkSettings.Ports[replContainerPort]; ok && len(bindings) > 0 {
			fmt.Sscanf(bindings[0].HostPort, "%d", &state.HostPort)
		}
	}
	return state
}

// client404 reports whether err is a Docker "not found" error. The real SDK
// exposes this via errdefs.IsNotFound, grounded on the teacher's own
// errors.NotFound handling in docker.go/attaching.go.
func client404(err error) bool {
	return strings.Contains(err.Error(), "No such container") || strings.Contains(err.Error(), "not found")
}
