// Package session owns sandbox container lifecycle: starting and reattaching
// to per-session containers, idle eviction, and the exec/export operations
// layered over internal/dockerio, internal/datasets, and internal/artifacts.
// Grounded on original_source/langgraph_sandbox/sandbox/session_manager.py.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hashicorp/go-multierror"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/artifacts"
	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/datasets"
	"github.com/sandboxd/sandboxd/internal/dockerio"
	"github.com/sandboxd/sandboxd/internal/metrics"
)

// REPLContainerPort is the fixed in-container port the REPL service listens
// on, grounded on session_manager.py's REPL_PORT = "9000/tcp".
const REPLContainerPort = "9000/tcp"

// IdleTimeout is how long a session may sit unused before the sweep force-
// removes its container, grounded on session_manager.py's
// IDLE_TIMEOUT_SECS = 45 * 60.
const IdleTimeout = 45 * time.Minute

const healthPollAttempts = 50
const healthPollInterval = 100 * time.Millisecond

// Info is what the manager tracks per live session, grounded on
// session_manager.py's SessionInfo dataclass.
type Info struct {
	ContainerID    string
	ContainerName  string
	HostPort       int
	SessionDir     string // empty for TMPFS
	SessionStorage config.SessionStorage
	LastUsed       time.Time
}

// Manager is the sandbox session registry, grounded on session_manager.py's
// SessionManager.
type Manager struct {
	cfg     *config.Config
	runtime dockerio.ContainerRuntime
	ingest  *artifacts.Ingester
	fetch   datasets.FetchFunc
	log     *logrus.Entry
	repl    *replClient

	mu       sync.Mutex
	sessions map[string]*Info
	locks    map[string]*sync.Mutex
}

// NewManager wires the collaborators the exec/export flows need. It does not
// re-check cfg's mode invariants; those are enforced by config.FromEnv. A
// nil fetch selects datasets.PlaceholderFetch.
func NewManager(cfg *config.Config, runtime dockerio.ContainerRuntime, ingest *artifacts.Ingester, fetch datasets.FetchFunc, log *logrus.Entry) *Manager {
	if fetch == nil {
		fetch = datasets.PlaceholderFetch
	}
	return &Manager{
		cfg:      cfg,
		runtime:  runtime,
		ingest:   ingest,
		fetch:    fetch,
		log:      log,
		repl:     newReplClient(),
		sessions: map[string]*Info{},
		locks:    map[string]*sync.Mutex{},
	}
}

// lockFor returns the per-session mutex, creating it on first use. Guarded
// by the manager's own mutex so two goroutines never create two locks for
// the same session id (spec.md §5's concurrency model, documented in
// DESIGN.md).
func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

func (m *Manager) get(sessionID string) (*Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[sessionID]
	return info, ok
}

func (m *Manager) set(sessionID string, info *Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, existed := m.sessions[sessionID]; !existed {
		metrics.SessionsActive.Inc()
	}
	m.sessions[sessionID] = info
}

func (m *Manager) delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, existed := m.sessions[sessionID]; existed {
		metrics.SessionsActive.Dec()
	}
	delete(m.sessions, sessionID)
}

func (m *Manager) touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.sessions[sessionID]; ok {
		info.LastUsed = time.Now()
	}
}

// containerName is the fixed "sbox-<id>" naming scheme session_manager.py
// uses both for the real container name and for container-network DNS
// resolution.
func containerName(sessionID string) string {
	return "sbox-" + sessionID
}

// sweepIdle force-removes every session whose LastUsed predates IdleTimeout,
// opportunistically run at the start of Start and Exec. Removal errors are
// collected, not fatal: a sweep that fails to remove one container must
// still continue sweeping the rest, per session_manager.py's per-session
// try/except around container.remove(force=True).
func (m *Manager) sweepIdle(ctx context.Context) error {
	now := time.Now()

	m.mu.Lock()
	var stale []string
	for sid, info := range m.sessions {
		if now.Sub(info.LastUsed) > IdleTimeout {
			stale = append(stale, sid)
		}
	}
	m.mu.Unlock()

	if len(stale) == 0 {
		return nil
	}

	var mu sync.Mutex
	var result error
	g, gctx := errgroup.WithContext(ctx)
	for _, sid := range stale {
		sid := sid
		g.Go(func() error {
			info, ok := m.get(sid)
			if !ok {
				return nil
			}
			if err := m.runtime.Remove(gctx, info.ContainerID); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("idle sweep remove %s: %w", sid, err))
				mu.Unlock()
			}
			m.delete(sid)
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// Start reattaches to sessionKey's container if it already exists (starting
// it first if it is stopped) and its REPL becomes healthy; otherwise it
// removes any such container and creates a fresh one. An empty sessionKey generates a new
// session id. Grounded on session_manager.py's start().
func (m *Manager) Start(ctx context.Context, sessionKey string) (string, error) {
	if err := m.sweepIdle(ctx); err != nil {
		m.log.WithError(err).Warn("idle sweep reported errors")
	}

	sid := sessionKey
	if sid == "" {
		sid = uuid.NewString()
	}

	lock := m.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := m.get(sid); ok {
		m.touch(sid)
		return sid, nil
	}

	name := containerName(sid)

	var sessionDir string
	if m.cfg.IsBind() {
		sessionDir = m.cfg.SessionDir(sid)
		if err := os.MkdirAll(sessionDir, 0o755); err != nil {
			return "", apperr.Wrapf(apperr.KindContainerCreateFailed, err, "create session dir %s", sessionDir)
		}
	}

	if existing, err := m.runtime.FindByName(ctx, name); err == nil && existing != nil {
		if _, reErr := m.reattach(ctx, sid, name, existing, sessionDir); reErr == nil {
			return sid, nil
		}
		// Fall through to creation; a stale/broken container under this
		// name is removed best-effort before create.
		_ = m.runtime.Stop(ctx, existing.ID)
		_ = m.runtime.Remove(ctx, existing.ID)
	}

	info, err := m.create(ctx, sid, name, sessionDir)
	if err != nil {
		return "", err
	}

	m.set(sid, info)

	if err := m.waitHealthy(ctx, info); err != nil {
		return "", err
	}

	if m.cfg.IsBind() {
		writeSessionMetadata(sessionDir, map[string]interface{}{
			"session_id": sid,
			"started_at": nowISO(),
		})
		appendSessionLog(sessionDir, "session_started", map[string]interface{}{"session_id": sid})
	}

	return sid, nil
}

func (m *Manager) reattach(ctx context.Context, sid, name string, existing *dockerio.ContainerState, sessionDir string) (*Info, error) {
	if !existing.Running {
		if err := m.runtime.Start(ctx, existing.ID); err != nil {
			return nil, err
		}
	}
	state, err := m.runtime.Inspect(ctx, existing.ID)
	if err != nil {
		return nil, err
	}

	info := &Info{
		ContainerID:    state.ID,
		ContainerName:  name,
		HostPort:       state.HostPort,
		SessionDir:     sessionDir,
		SessionStorage: m.cfg.SessionStorage,
		LastUsed:       time.Now(),
	}
	m.set(sid, info)

	if err := m.waitHealthy(ctx, info); err != nil {
		m.delete(sid)
		return nil, err
	}
	return info, nil
}

func (m *Manager) create(ctx context.Context, sid, name, sessionDir string) (*Info, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerCreateDuration)

	spec := dockerio.ContainerSpec{
		Image:           m.cfg.SandboxImage,
		Name:            name,
		MemoryBytes:     8 * 1024 * 1024 * 1024,
		NanoCPUs:        2_000_000_000,
		PublishREPLPort: m.cfg.AddressStrategy == "host",
	}

	if m.cfg.IsTMPFS() {
		spec.TmpfsSession = fmt.Sprintf("rw,size=%dm,mode=1777", m.cfg.TmpfsSizeMB)
	} else {
		spec.Mounts = append(spec.Mounts, dockerio.MountSpec{HostPath: sessionDir, ContainerPath: "/session"})
	}

	switch {
	case m.cfg.UsesLocalRO():
		spec.Mounts = append(spec.Mounts, dockerio.MountSpec{HostPath: m.cfg.DatasetsHostRO, ContainerPath: m.cfg.ContainerDataRO, ReadOnly: true})
	case m.cfg.UsesHybrid():
		spec.Mounts = append(spec.Mounts, dockerio.MountSpec{HostPath: m.cfg.HybridLocalPath, ContainerPath: m.cfg.ContainerHybridPath, ReadOnly: true})
	}

	if m.cfg.AddressStrategy == "container" {
		spec.Network = m.cfg.ComposeNetwork
	}

	containerID, err := m.runtime.Create(ctx, spec)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindContainerCreateFailed, err, "create container %s", name)
	}
	if err := m.runtime.Start(ctx, containerID); err != nil {
		return nil, apperr.Wrapf(apperr.KindContainerCreateFailed, err, "start container %s", name)
	}

	state, err := m.runtime.Inspect(ctx, containerID)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindContainerCreateFailed, err, "inspect container %s", name)
	}

	return &Info{
		ContainerID:    containerID,
		ContainerName:  name,
		HostPort:       state.HostPort,
		SessionDir:     sessionDir,
		SessionStorage: m.cfg.SessionStorage,
		LastUsed:       time.Now(),
	}, nil
}

func (m *Manager) waitHealthy(ctx context.Context, info *Info) error {
	url := m.replURL(info)
	var lastErr error
	for i := 0; i < healthPollAttempts; i++ {
		if i > 0 {
			time.Sleep(healthPollInterval)
		}
		if err := m.repl.Health(ctx, url); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return apperr.Wrapf(apperr.KindHealthTimeout, lastErr, "container %s never became healthy at %s", info.ContainerID, url)
}

// GetSessionDir returns the host directory backing sessionID, erroring for
// TMPFS sessions (which have none) or unknown sessions.
func (m *Manager) GetSessionDir(sessionID string) (string, error) {
	info, ok := m.get(sessionID)
	if !ok {
		return "", apperr.New(apperr.KindUnknownSession, sessionID)
	}
	if info.SessionStorage == config.TMPFS {
		return "", apperr.New(apperr.KindUnknownSession, "session "+sessionID+" has no host directory (TMPFS)")
	}
	return info.SessionDir, nil
}

// ContainerFor returns the container id backing sessionID.
func (m *Manager) ContainerFor(sessionID string) (string, error) {
	info, ok := m.get(sessionID)
	if !ok {
		return "", apperr.New(apperr.KindUnknownSession, sessionID)
	}
	return info.ContainerID, nil
}

// Stop tears sessionID's container down, writing final BIND-mode metadata
// first. Unknown session ids are a no-op, matching session_manager.py's
// stop().
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	info, ok := m.get(sessionID)
	if !ok {
		return nil
	}

	if m.cfg.IsBind() {
		appendSessionLog(info.SessionDir, "session_stopped", map[string]interface{}{"session_id": sessionID})
		writeSessionMetadata(info.SessionDir, map[string]interface{}{"stopped_at": nowISO()})
	}

	m.delete(sessionID)
	_ = m.runtime.Stop(ctx, info.ContainerID)
	_ = m.runtime.Remove(ctx, info.ContainerID)
	return nil
}

// CleanupAllContainers force-removes every container whose name carries the
// "sbox-" prefix, grounded on
// original_source/langgraph_sandbox/sandbox/container_utils.py's
// cleanup_sandbox_containers.
func CleanupAllContainers(ctx context.Context, runtime dockerio.ContainerRuntime) error {
	states, err := runtime.ListByPrefix(ctx, "sbox-")
	if err != nil {
		return err
	}

	var result error
	for _, s := range states {
		if err := runtime.Remove(ctx, s.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", s.Name, err))
		}
	}
	return result
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
