package datasets

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/atomicfile"
	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/dockerio"
)

// Descriptor is what staging/sync returns per dataset, grounded on
// staging.py/sync.py's per-dataset result dict.
type Descriptor struct {
	ID              string `json:"id"`
	PathInContainer string `json:"path_in_container"`
}

// ContainerStagedPath returns the expected in-container path for a staged
// (API-mode) dataset.
func ContainerStagedPath(cfg *config.Config, dsID string) string {
	return fmt.Sprintf("%s/%s.parquet", cfg.ContainerDataStaged, dsID)
}

// ContainerROPath returns the expected in-container path for a LOCAL_RO
// dataset, assuming <id>.parquet naming in the RO mount.
func ContainerROPath(cfg *config.Config, dsID string) string {
	return fmt.Sprintf("%s/%s.parquet", cfg.ContainerDataRO, dsID)
}

// ContainerHybridPath returns the in-container path for a dataset served
// from the HYBRID local mount. staging.py's own sync.py references this
// helper but never defines it; this supplies the missing definition using
// the mount path its caller's comment names.
func ContainerHybridPath(cfg *config.Config, dsID string) string {
	return fmt.Sprintf("%s/%s.parquet", cfg.ContainerHybridPath, dsID)
}

// HostBindDataPath returns the host-side path that a BIND-mode container
// sees mounted at /session/data.
func HostBindDataPath(cfg *config.Config, sessionID, dsID string) string {
	return filepath.Join(cfg.SessionDir(sessionID), "data", dsID+".parquet")
}

// StageDatasetIntoSandbox fetches dsID via fetchFn and writes it into the
// sandbox for API-mode access: via the container I/O path for TMPFS
// storage, or directly onto the host bind mount for BIND storage. Grounded
// on staging.py's stage_dataset_into_sandbox.
func StageDatasetIntoSandbox(ctx context.Context, cfg *config.Config, cli dockerio.Client, sessionID, containerID, dsID string, fetchFn FetchFunc) (Descriptor, error) {
	if !cfg.UsesAPIStaging() {
		return Descriptor{}, apperr.New(apperr.KindInvalidEnum, "stage_dataset_into_sandbox requires API or HYBRID dataset access")
	}

	data, err := fetchFn(ctx, dsID)
	if err != nil {
		return Descriptor{}, apperr.Wrapf(apperr.KindFetchFailed, err, "fetch dataset %s", dsID)
	}

	containerPath := ContainerStagedPath(cfg, dsID)
	if cfg.IsTMPFS() {
		filename := dsID + ".parquet"
		containerDir := path.Dir(containerPath)

		if _, err := dockerio.ExecRun(ctx, cli, containerID, []string{"/bin/sh", "-lc", fmt.Sprintf("mkdir -p %s", containerDir)}); err != nil {
			return Descriptor{}, apperr.Wrapf(apperr.KindStageFailed, err, "mkdir %s in %s", containerDir, containerID)
		}

		if err := dockerio.PutBytes(ctx, cli, containerID, containerPath, data, 0o644); err != nil {
			return Descriptor{}, apperr.Wrapf(apperr.KindStageFailed, err, "write %s into %s", filename, containerID)
		}

		exists, err := dockerio.FileExists(ctx, cli, containerID, containerPath)
		if err != nil || !exists {
			return Descriptor{}, apperr.Wrapf(apperr.KindStageFailed, err, "verify %s written to %s", filename, containerID)
		}
	} else {
		dest := HostBindDataPath(cfg, sessionID, dsID)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return Descriptor{}, apperr.Wrapf(apperr.KindStageFailed, err, "mkdir %s", filepath.Dir(dest))
		}
		if err := atomicfile.Write(dest, data, 0o644); err != nil {
			return Descriptor{}, apperr.Wrapf(apperr.KindStageFailed, err, "write %s", dest)
		}
		containerPath = path.Join(cfg.ContainerSessionPath, "data", dsID+".parquet")
	}

	return Descriptor{ID: dsID, PathInContainer: containerPath}, nil
}
