package artifacts_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/artifacts"
)

func TestStore_BlobPathSharding(t *testing.T) {
	store := newTestStore(t)
	sha := strings.Repeat("ab01", 16) // 64 hex chars
	p := store.BlobPath(sha)
	require.Contains(t, p, sha[0:2]+"/"+sha[2:4]+"/"+sha)
}

func TestStore_GetByID_UnknownReturnsNilNil(t *testing.T) {
	store := newTestStore(t)
	a, err := store.GetByID("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestStore_ListForSession_MultipleLinksOneArtifact(t *testing.T) {
	store := newTestStore(t)
	ing := artifacts.NewIngester(store, 50, nil)

	path1 := writeTemp(t, "x.txt", []byte("same-content"))
	_, err := ing.IngestFiles([]string{path1}, artifacts.LinkInfo{SessionID: "s1"})
	require.NoError(t, err)

	path2 := writeTemp(t, "y.txt", []byte("same-content"))
	_, err = ing.IngestFiles([]string{path2}, artifacts.LinkInfo{SessionID: "s1"})
	require.NoError(t, err)

	list, err := store.ListForSession("s1")
	require.NoError(t, err)
	// one artifact row, but two links, so two rows in the joined listing
	require.Len(t, list, 2)
	require.Equal(t, list[0].ID, list[1].ID)
}
