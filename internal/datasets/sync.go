package datasets

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/dockerio"
	"github.com/sandboxd/sandboxd/internal/metrics"
)

// LoadPendingDatasets drives the PENDING->LOADED (or ->FAILED) transition
// for every id in dsIDs, grounded on sync.py's load_pending_datasets:
//   - HYBRID mode checks HybridLocalPath first and, if the dataset is
//     present there, treats it as already mounted without any fetch.
//   - API mode fetches and stages via StageDatasetIntoSandbox.
//   - LOCAL_RO mode assumes the dataset is already mounted and only
//     resolves its path.
//
// A failure marks the entry FAILED and returns the wrapped error; entries
// already processed in this call remain LOADED.
func LoadPendingDatasets(ctx context.Context, cfg *config.Config, cli dockerio.Client, sessionID, containerID string, fetchFn FetchFunc, dsIDs []string) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(dsIDs))

	for _, dsID := range dsIDs {
		desc, err := loadOne(ctx, cfg, cli, sessionID, containerID, fetchFn, dsID)
		if err != nil {
			metrics.DatasetLoadsTotal.WithLabelValues("failed").Inc()
			if _, updErr := UpdateEntryStatus(cfg, sessionID, dsID, StatusFailed); updErr != nil {
				return out, updErr
			}
			return out, apperr.Wrapf(apperr.KindStageFailed, err, "load dataset %s", dsID)
		}
		metrics.DatasetLoadsTotal.WithLabelValues("loaded").Inc()
		if _, err := UpdateEntryStatus(cfg, sessionID, dsID, StatusLoaded); err != nil {
			return out, err
		}
		out = append(out, desc)
	}

	return out, nil
}

func loadOne(ctx context.Context, cfg *config.Config, cli dockerio.Client, sessionID, containerID string, fetchFn FetchFunc, dsID string) (Descriptor, error) {
	if cfg.UsesHybrid() && cfg.HybridLocalPath != "" {
		localPath := filepath.Join(cfg.HybridLocalPath, dsID+".parquet")
		if _, err := os.Stat(localPath); err == nil {
			return Descriptor{ID: dsID, PathInContainer: ContainerHybridPath(cfg, dsID)}, nil
		}
	}

	if cfg.UsesAPIStaging() {
		return StageDatasetIntoSandbox(ctx, cfg, cli, sessionID, containerID, dsID, fetchFn)
	}

	return Descriptor{ID: dsID, PathInContainer: ContainerROPath(cfg, dsID)}, nil
}
