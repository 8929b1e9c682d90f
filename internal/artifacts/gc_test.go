package artifacts_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/artifacts"
)

func TestGCCheck_CleanStoreReportsNothing(t *testing.T) {
	store := newTestStore(t)
	ing := artifacts.NewIngester(store, 50, nil)

	path := writeTemp(t, "a.txt", []byte("hello"))
	_, err := ing.IngestFiles([]string{path}, artifacts.LinkInfo{SessionID: "s1"})
	require.NoError(t, err)

	report, err := store.GCCheck()
	require.NoError(t, err)
	require.Empty(t, report.OrphanBlobs)
	require.Empty(t, report.MissingBlobs)
	require.Equal(t, 1, report.ScannedBlobs)
	require.Equal(t, 1, report.ScannedRows)
}

func TestGCCheck_OrphanBlobOnDisk(t *testing.T) {
	store := newTestStore(t)

	sha := "ff00112233445566778899aabbccddeeff00112233445566778899aabbccdd"
	orphanPath := store.BlobPath(sha)
	require.NoError(t, os.MkdirAll(filepath.Dir(orphanPath), 0o755))
	require.NoError(t, os.WriteFile(orphanPath, []byte("nobody-owns-me"), 0o644))

	report, err := store.GCCheck()
	require.NoError(t, err)
	require.Equal(t, []string{sha}, report.OrphanBlobs)
	require.Empty(t, report.MissingBlobs)
}

func TestGCCheck_MissingBlobOnDisk(t *testing.T) {
	store := newTestStore(t)
	ing := artifacts.NewIngester(store, 50, nil)

	path := writeTemp(t, "b.txt", []byte("will-vanish"))
	descs, err := ing.IngestFiles([]string{path}, artifacts.LinkInfo{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, descs, 1)

	require.NoError(t, os.Remove(store.BlobPath(descs[0].SHA256)))

	report, err := store.GCCheck()
	require.NoError(t, err)
	require.Equal(t, []string{descs[0].SHA256}, report.MissingBlobs)
	require.Empty(t, report.OrphanBlobs)
}
