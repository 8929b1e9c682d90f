package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/artifacts"
	"github.com/sandboxd/sandboxd/internal/dockerio"
)

// ExportResult is what ExportFile returns, grounded on session_manager.py's
// export_file() response dict.
type ExportResult struct {
	Success    bool
	HostPath   string
	DownloadURL string
	Error      string
}

// ExportFile copies a file from under /data inside sessionID's container to
// a timestamped path under exportsRoot/modified_datasets, then re-ingests a
// copy of it purely to mint a download URL (ingest deletes its source,
// which would otherwise remove the export). Grounded on
// session_manager.py's export_file.
func (m *Manager) ExportFile(ctx context.Context, sessionID, containerPath, exportsRoot string) (ExportResult, error) {
	info, ok := m.get(sessionID)
	if !ok {
		return ExportResult{}, apperr.New(apperr.KindUnknownSession, sessionID)
	}

	if !strings.HasPrefix(containerPath, "/data/") {
		return ExportResult{Success: false, Error: "containerPath must be under /data/"}, nil
	}

	exists, err := dockerio.FileExists(ctx, m.runtime, info.ContainerID, containerPath)
	if err != nil || !exists {
		return ExportResult{Success: false, Error: fmt.Sprintf("file not found: %s", containerPath)}, nil
	}

	destDir := filepath.Join(exportsRoot, "modified_datasets")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ExportResult{}, apperr.Wrapf(apperr.KindCopyOutFailed, err, "mkdir %s", destDir)
	}

	extracted, err := dockerio.CopyOut(ctx, m.runtime, info.ContainerID, containerPath, destDir)
	if err != nil {
		return ExportResult{}, apperr.Wrapf(apperr.KindCopyOutFailed, err, "export %s", containerPath)
	}

	stamped := filepath.Join(destDir, fmt.Sprintf("%d_%s", time.Now().UTC().Unix(), filepath.Base(containerPath)))
	if err := os.Rename(extracted, stamped); err != nil {
		return ExportResult{}, apperr.Wrapf(apperr.KindCopyOutFailed, err, "rename export to %s", stamped)
	}

	result := ExportResult{Success: true, HostPath: stamped}

	if m.ingest != nil {
		if copyPath, err := copyForIngest(stamped); err == nil {
			if descs, err := m.ingest.IngestFiles([]string{copyPath}, artifacts.LinkInfo{SessionID: sessionID}); err == nil && len(descs) == 1 {
				result.DownloadURL = descs[0].URL
			}
		}
	}

	return result, nil
}

// copyForIngest duplicates path into a sibling temp file so ingest's
// delete-the-source step leaves the real export untouched.
func copyForIngest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	tmp := path + ".ingest-tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	return tmp, nil
}
