package artifacts_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/artifacts"
)

func newTestStore(t *testing.T) *artifacts.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := artifacts.Open(filepath.Join(dir, "blobs"), filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, content, 0o644))
	return p
}

func TestIngest_DedupAcrossSessions(t *testing.T) {
	store := newTestStore(t)
	ing := artifacts.NewIngester(store, 50, nil)

	pathA := writeTemp(t, "a.txt", []byte("A"))
	descA, err := ing.IngestFiles([]string{pathA}, artifacts.LinkInfo{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, descA, 1)
	require.NotEmpty(t, descA[0].ID)

	pathB := writeTemp(t, "b.txt", []byte("A"))
	descB, err := ing.IngestFiles([]string{pathB}, artifacts.LinkInfo{SessionID: "s2"})
	require.NoError(t, err)
	require.Len(t, descB, 1)

	require.Equal(t, descA[0].SHA256, descB[0].SHA256)
	require.Equal(t, descA[0].ID, descB[0].ID)

	list1, err := store.ListForSession("s1")
	require.NoError(t, err)
	require.Len(t, list1, 1)

	list2, err := store.ListForSession("s2")
	require.NoError(t, err)
	require.Len(t, list2, 1)

	// source files deleted on success
	_, err = os.Stat(pathA)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(pathB)
	require.True(t, os.IsNotExist(err))
}

func TestIngest_TooLargeNotDeletedNoCatalogRow(t *testing.T) {
	store := newTestStore(t)
	ing := artifacts.NewIngester(store, 0, nil) // maxArtifactSizeMB<=0 -> default 50MB, too large to exercise cheaply
	_ = ing

	// Use a dedicated ingester with the smallest positive cap (1MB) and a
	// file twice that size.
	tinyIngester := artifacts.NewIngester(store, 1, nil) // 1MB cap
	big := make([]byte, 2*1024*1024)                     // 2MB, exceeds the 1MB cap
	path := writeTemp(t, "big.bin", big)

	descs, err := tinyIngester.IngestFiles([]string{path}, artifacts.LinkInfo{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Empty(t, descs[0].ID)
	require.NotEmpty(t, descs[0].Error)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "source file must not be deleted when too large")

	row, err := store.GetMetadata("")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestIngest_BlobOnDiskMatchesHash(t *testing.T) {
	store := newTestStore(t)
	ing := artifacts.NewIngester(store, 50, nil)

	path := writeTemp(t, "a.txt", []byte("hello world"))
	descs, err := ing.IngestFiles([]string{path}, artifacts.LinkInfo{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, descs, 1)

	blobPath := store.BlobPath(descs[0].SHA256)
	data, err := os.ReadFile(blobPath)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}
