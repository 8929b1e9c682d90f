package dockerfake

import (
	"context"
	"fmt"

	"github.com/sandboxd/sandboxd/internal/dockerio"
)

// fakeContainer is one entry in the in-memory container registry backing
// Client's ContainerRuntime methods.
type fakeContainer struct {
	id       string
	name     string
	running  bool
	hostPort int
}

// RuntimeState extends Client with the in-memory container registry
// internal/session's tests drive, the same fake-constructor idiom as
// Client's exec/copy surface.
type RuntimeState struct {
	*Client

	containers map[string]*fakeContainer
	nextID     int
	NextPort   int // seeded starting host port handed out by Create
}

// NewRuntime builds a Client with container-lifecycle methods attached.
func NewRuntime() *RuntimeState {
	return &RuntimeState{
		Client:     New(),
		containers: map[string]*fakeContainer{},
		NextPort:   40000,
	}
}

func (r *RuntimeState) FindByName(_ context.Context, name string) (*dockerio.ContainerState, error) {
	for _, c := range r.containers {
		if c.name == name {
			return toState(c), nil
		}
	}
	return nil, nil
}

func (r *RuntimeState) Create(_ context.Context, spec dockerio.ContainerSpec) (string, error) {
	r.nextID++
	id := fmt.Sprintf("fake-container-%d", r.nextID)
	c := &fakeContainer{id: id, name: spec.Name, running: false}
	if spec.PublishREPLPort {
		c.hostPort = r.NextPort
		r.NextPort++
	}
	r.containers[id] = c
	return id, nil
}

func (r *RuntimeState) Start(_ context.Context, containerID string) error {
	c, ok := r.containers[containerID]
	if !ok {
		return fmt.Errorf("no such container: %s", containerID)
	}
	c.running = true
	return nil
}

func (r *RuntimeState) Inspect(_ context.Context, containerID string) (dockerio.ContainerState, error) {
	c, ok := r.containers[containerID]
	if !ok {
		return dockerio.ContainerState{}, fmt.Errorf("no such container: %s", containerID)
	}
	return *toState(c), nil
}

func (r *RuntimeState) Stop(_ context.Context, containerID string) error {
	c, ok := r.containers[containerID]
	if !ok {
		return fmt.Errorf("no such container: %s", containerID)
	}
	c.running = false
	return nil
}

func (r *RuntimeState) Remove(_ context.Context, containerID string) error {
	delete(r.containers, containerID)
	return nil
}

func (r *RuntimeState) ListByPrefix(_ context.Context, namePrefix string) ([]dockerio.ContainerState, error) {
	var out []dockerio.ContainerState
	for _, c := range r.containers {
		if len(c.name) >= len(namePrefix) && c.name[:len(namePrefix)] == namePrefix {
			out = append(out, *toState(c))
		}
	}
	return out, nil
}

func toState(c *fakeContainer) *dockerio.ContainerState {
	return &dockerio.ContainerState{ID: c.id, Name: c.name, Running: c.running, HostPort: c.hostPort}
}
