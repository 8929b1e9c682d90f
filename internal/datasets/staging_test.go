package datasets_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/datasets"
	"github.com/sandboxd/sandboxd/internal/dockerio/dockerfake"
)

func fakeFetch(ctx context.Context, dsID string) ([]byte, error) {
	return []byte("PARQUET_BYTES_FOR::" + dsID), nil
}

func TestStaging_TMPFSWritesIntoContainer(t *testing.T) {
	cfg := &config.Config{
		SessionStorage:      config.TMPFS,
		DatasetAccess:       config.DatasetAPI,
		SessionsRoot:        t.TempDir(),
		CacheFilename:       "cache_datasets.json",
		ContainerDataStaged: "/data",
	}
	cli := dockerfake.New()

	desc, err := datasets.StageDatasetIntoSandbox(context.Background(), cfg, cli, "sess1", "container1", "ds-a", fakeFetch)
	require.NoError(t, err)
	require.Equal(t, "ds-a", desc.ID)
	require.Equal(t, "/data/ds-a.parquet", desc.PathInContainer)

	f, ok := cli.Files["/data/ds-a.parquet"]
	require.True(t, ok)
	require.Equal(t, "PARQUET_BYTES_FOR::ds-a", string(f.Data))
}

func TestStaging_BINDWritesToHost(t *testing.T) {
	cfg := &config.Config{
		SessionStorage:      config.BIND,
		DatasetAccess:       config.DatasetAPI,
		SessionsRoot:        t.TempDir(),
		CacheFilename:       "cache_datasets.json",
		ContainerDataStaged: "/data",
	}
	cli := dockerfake.New()

	_, err := datasets.StageDatasetIntoSandbox(context.Background(), cfg, cli, "sess1", "container1", "ds-a", fakeFetch)
	require.NoError(t, err)

	hostPath := datasets.HostBindDataPath(cfg, "sess1", "ds-a")
	data, err := os.ReadFile(hostPath)
	require.NoError(t, err)
	require.Equal(t, "PARQUET_BYTES_FOR::ds-a", string(data))
}

func TestStaging_RejectsNonAPIMode(t *testing.T) {
	cfg := &config.Config{
		SessionStorage: config.TMPFS,
		DatasetAccess:  config.DatasetLocalRO,
		SessionsRoot:   t.TempDir(),
	}
	cli := dockerfake.New()

	_, err := datasets.StageDatasetIntoSandbox(context.Background(), cfg, cli, "sess1", "container1", "ds-a", fakeFetch)
	require.Error(t, err)
}

func TestSync_HybridPrefersLocalFileWithoutFetch(t *testing.T) {
	hybridDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(hybridDir, "ds-a.parquet"), []byte("local"), 0o644))

	cfg := &config.Config{
		SessionStorage:      config.TMPFS,
		DatasetAccess:       config.DatasetHybrid,
		SessionsRoot:        t.TempDir(),
		CacheFilename:       "cache_datasets.json",
		HybridLocalPath:     hybridDir,
		ContainerHybridPath: "/heavy_data",
	}
	cli := dockerfake.New()

	calledFetch := false
	fetch := func(ctx context.Context, dsID string) ([]byte, error) {
		calledFetch = true
		return nil, nil
	}

	descs, err := datasets.LoadPendingDatasets(context.Background(), cfg, cli, "sess1", "container1", fetch, []string{"ds-a"})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Equal(t, "/heavy_data/ds-a.parquet", descs[0].PathInContainer)
	require.False(t, calledFetch)

	status, err := datasets.GetEntryStatus(cfg, "sess1", "ds-a")
	require.NoError(t, err)
	require.Equal(t, datasets.StatusLoaded, status)
}

func TestSync_HybridFallsBackToAPIWhenNotLocal(t *testing.T) {
	cfg := &config.Config{
		SessionStorage:      config.TMPFS,
		DatasetAccess:       config.DatasetHybrid,
		SessionsRoot:        t.TempDir(),
		CacheFilename:       "cache_datasets.json",
		HybridLocalPath:     t.TempDir(),
		ContainerDataStaged: "/data",
	}
	cli := dockerfake.New()

	descs, err := datasets.LoadPendingDatasets(context.Background(), cfg, cli, "sess1", "container1", fakeFetch, []string{"ds-b"})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Equal(t, "/data/ds-b.parquet", descs[0].PathInContainer)
}

func TestSync_LocalROJustResolvesPath(t *testing.T) {
	cfg := &config.Config{
		SessionStorage:  config.TMPFS,
		DatasetAccess:   config.DatasetLocalRO,
		SessionsRoot:    t.TempDir(),
		CacheFilename:   "cache_datasets.json",
		ContainerDataRO: "/data",
	}
	cli := dockerfake.New()

	descs, err := datasets.LoadPendingDatasets(context.Background(), cfg, cli, "sess1", "container1", fakeFetch, []string{"ds-c"})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Equal(t, "/data/ds-c.parquet", descs[0].PathInContainer)
}

func TestSync_FailureMarksEntryFailed(t *testing.T) {
	cfg := &config.Config{
		SessionStorage:      config.TMPFS,
		DatasetAccess:       config.DatasetAPI,
		SessionsRoot:        t.TempDir(),
		CacheFilename:       "cache_datasets.json",
		ContainerDataStaged: "/data",
	}
	cli := dockerfake.New()
	failingFetch := func(ctx context.Context, dsID string) ([]byte, error) {
		return nil, os.ErrNotExist
	}

	_, err := datasets.LoadPendingDatasets(context.Background(), cfg, cli, "sess1", "container1", failingFetch, []string{"ds-a"})
	require.Error(t, err)

	status, err := datasets.GetEntryStatus(cfg, "sess1", "ds-a")
	require.NoError(t, err)
	require.Equal(t, datasets.StatusFailed, status)
}
