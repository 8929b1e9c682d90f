package datasets_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/datasets"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		SessionsRoot:  t.TempDir(),
		CacheFilename: "cache_datasets.json",
	}
}

func TestCache_AddEntryThenReadBack(t *testing.T) {
	cfg := testConfig(t)

	_, err := datasets.AddEntry(cfg, "sess1", "ds-a", datasets.StatusPending)
	require.NoError(t, err)

	status, err := datasets.GetEntryStatus(cfg, "sess1", "ds-a")
	require.NoError(t, err)
	require.Equal(t, datasets.StatusPending, status)

	cached, err := datasets.IsCached(cfg, "sess1", "ds-a")
	require.NoError(t, err)
	require.True(t, cached)
}

func TestCache_AddEntryIsIdempotentAndUpdatesStatus(t *testing.T) {
	cfg := testConfig(t)

	_, err := datasets.AddEntry(cfg, "sess1", "ds-a", datasets.StatusPending)
	require.NoError(t, err)
	_, err = datasets.AddEntry(cfg, "sess1", "ds-a", datasets.StatusLoaded)
	require.NoError(t, err)

	entries, err := datasets.ReadEntries(cfg, "sess1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, datasets.StatusLoaded, entries[0].Status)
}

func TestCache_ReadPendingIDsOnlyReturnsPending(t *testing.T) {
	cfg := testConfig(t)

	_, err := datasets.AddEntry(cfg, "sess1", "ds-a", datasets.StatusPending)
	require.NoError(t, err)
	_, err = datasets.AddEntry(cfg, "sess1", "ds-b", datasets.StatusLoaded)
	require.NoError(t, err)
	_, err = datasets.AddEntry(cfg, "sess1", "ds-c", datasets.StatusPending)
	require.NoError(t, err)

	pending, err := datasets.ReadPendingIDs(cfg, "sess1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ds-a", "ds-c"}, pending)
}

func TestCache_WriteEntriesDedupesByID(t *testing.T) {
	cfg := testConfig(t)

	_, err := datasets.WriteEntries(cfg, "sess1", []datasets.Entry{
		{ID: "ds-a", Status: datasets.StatusPending, Timestamp: "t1"},
		{ID: "ds-a", Status: datasets.StatusLoaded, Timestamp: "t2"},
		{ID: "ds-b", Status: datasets.StatusPending, Timestamp: "t3"},
	})
	require.NoError(t, err)

	entries, err := datasets.ReadEntries(cfg, "sess1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "ds-a", entries[0].ID)
	require.Equal(t, datasets.StatusPending, entries[0].Status) // first insertion wins
}

func TestCache_MissingFileReadsAsEmpty(t *testing.T) {
	cfg := testConfig(t)

	entries, err := datasets.ReadEntries(cfg, "never-existed")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCache_ClearCache(t *testing.T) {
	cfg := testConfig(t)
	_, err := datasets.AddEntry(cfg, "sess1", "ds-a", datasets.StatusPending)
	require.NoError(t, err)

	_, err = datasets.ClearCache(cfg, "sess1")
	require.NoError(t, err)

	entries, err := datasets.ReadEntries(cfg, "sess1")
	require.NoError(t, err)
	require.Empty(t, entries)
}
