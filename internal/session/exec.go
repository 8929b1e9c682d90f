package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/artifacts"
	"github.com/sandboxd/sandboxd/internal/dockerio"
	"github.com/sandboxd/sandboxd/internal/metrics"
)

const artifactsSubdir = "artifacts"

// ExecResult is what Exec returns, session_manager.py's exec() result dict
// with artifacts/session_dir appended.
type ExecResult struct {
	OK         bool
	Stdout     string
	Error      string
	Artifacts  []artifacts.Descriptor
	SessionDir string
}

// Exec runs code inside sessionID's REPL, diffing the container's (or bind
// mount's) artifacts directory before and after to discover newly created
// files and ingest them. Grounded on session_manager.py's exec().
func (m *Manager) Exec(ctx context.Context, sessionID, code string, timeoutSeconds int) (ExecResult, error) {
	if err := m.sweepIdle(ctx); err != nil {
		m.log.WithError(err).Warn("idle sweep reported errors")
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	outcome := "error"
	defer func() { timer.ObserveDurationVec(metrics.ExecDuration, outcome) }()

	info, ok := m.get(sessionID)
	if !ok {
		return ExecResult{}, apperr.New(apperr.KindUnknownSession, sessionID)
	}
	m.touch(sessionID)

	before, err := m.listArtifactFiles(ctx, info)
	if err != nil {
		m.log.WithError(err).Warn("snapshot artifacts before exec failed")
	}

	resp, err := m.repl.Exec(ctx, m.replURL(info), code, timeoutSeconds)
	if err != nil {
		return ExecResult{}, apperr.Wrapf(apperr.KindNetworkUnreachable, err, "exec in session %s", sessionID)
	}
	if resp.OK {
		outcome = "ok"
	} else {
		outcome = "exec_error"
	}

	if m.cfg.IsBind() {
		appendSessionLog(info.SessionDir, "code_execution", map[string]interface{}{"session_id": sessionID, "ok": resp.OK})
		bumpExecutionCount(info.SessionDir)
	}

	after, err := m.listArtifactFiles(ctx, info)
	if err != nil {
		m.log.WithError(err).Warn("snapshot artifacts after exec failed")
	}

	newPaths := diffNew(before, after)

	var descriptors []artifacts.Descriptor
	if len(newPaths) > 0 {
		hostFiles, err := m.materializeNewArtifacts(ctx, info, newPaths)
		if err != nil {
			m.log.WithError(err).Warn("materialize new artifact files failed")
		} else if m.ingest != nil {
			descriptors, err = m.ingest.IngestFiles(hostFiles, artifacts.LinkInfo{SessionID: sessionID})
			if err != nil {
				m.log.WithError(err).Warn("ingest new artifacts failed")
			}
		}
	}

	if m.cfg.IsBind() && len(descriptors) > 0 {
		appendSessionLog(info.SessionDir, "artifacts_created", map[string]interface{}{"session_id": sessionID, "count": len(descriptors)})
	}

	m.cleanupSessionMemory(ctx, info)

	sessionDir := ""
	if m.cfg.IsBind() {
		sessionDir = info.SessionDir
	}

	return ExecResult{OK: resp.OK, Stdout: resp.Stdout, Error: resp.Error, Artifacts: descriptors, SessionDir: sessionDir}, nil
}

// listArtifactFiles returns the session-relative paths (e.g.
// "artifacts/plot.png") currently present under the session's artifacts
// directory, dispatching on storage mode like session_manager.py's
// _list_artifact_files_container/_host.
func (m *Manager) listArtifactFiles(ctx context.Context, info *Info) (map[string]bool, error) {
	if m.cfg.IsBind() {
		return listArtifactFilesHost(info.SessionDir)
	}
	return m.listArtifactFilesContainer(ctx, info.ContainerID)
}

func listArtifactFilesHost(sessionDir string) (map[string]bool, error) {
	out := map[string]bool{}
	root := filepath.Join(sessionDir, artifactsSubdir)
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(sessionDir, path)
		if relErr != nil {
			return relErr
		}
		out[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	return out, nil
}

func (m *Manager) listArtifactFilesContainer(ctx context.Context, containerID string) (map[string]bool, error) {
	res, err := dockerio.ExecRun(ctx, m.runtime, containerID, []string{
		"bash", "-lc",
		"set -euo pipefail; if [ -d /session/artifacts ]; then find /session/artifacts -type f -printf '%P\\n'; fi",
	})
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, line := range splitLines(res.Output) {
		if line == "" {
			continue
		}
		out["artifacts/"+line] = true
	}
	return out, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// diffNew returns the paths present in after but not before, sorted for
// deterministic ingest ordering.
func diffNew(before, after map[string]bool) []string {
	var out []string
	for p := range after {
		if !before[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// materializeNewArtifacts resolves each newly discovered session-relative
// path to a host path Ingester.IngestFiles can read: for BIND, that's
// directly under the session directory; for TMPFS, each file must first be
// copied out of the container into a fresh staging directory, grounded on
// session_manager.py's tempfile.mkdtemp(prefix="sbox_art_batch_") +
// _copy_from_container loop (with a short settle delay beforehand, matching
// the reference's belief that memory-backed filesystems need a moment to
// propagate metadata after a write).
func (m *Manager) materializeNewArtifacts(ctx context.Context, info *Info, relPaths []string) ([]string, error) {
	if m.cfg.IsBind() {
		hostFiles := make([]string, 0, len(relPaths))
		for _, rel := range relPaths {
			hostFiles = append(hostFiles, filepath.Join(info.SessionDir, rel))
		}
		return hostFiles, nil
	}

	time.Sleep(30 * time.Millisecond)

	stagingDir, err := os.MkdirTemp("", "sbox_art_batch_")
	if err != nil {
		return nil, err
	}

	hostFiles := make([]string, 0, len(relPaths))
	for _, rel := range relPaths {
		containerPath := "/session/" + rel
		dst, err := dockerio.CopyOut(ctx, m.runtime, info.ContainerID, containerPath, stagingDir)
		if err != nil {
			return hostFiles, err
		}
		hostFiles = append(hostFiles, dst)
	}
	return hostFiles, nil
}

// cleanupSessionMemory runs a best-effort garbage-collection snippet after
// every exec, grounded on session_manager.py's _cleanup_session_memory:
// "don't fail the main execution if cleanup fails".
func (m *Manager) cleanupSessionMemory(ctx context.Context, info *Info) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	const snippet = `
import gc
try:
    import matplotlib.pyplot as plt
    plt.close('all')
except Exception:
    pass
gc.collect()
`
	_, _ = m.repl.Exec(ctx, m.replURL(info), snippet, 10)
}
