package artifacts_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/artifacts"
	"github.com/sandboxd/sandboxd/internal/log"
)

func newTestAPI(t *testing.T) (*artifacts.API, *artifacts.Store, *artifacts.TokenService) {
	t.Helper()
	store := newTestStore(t)
	tokens, err := artifacts.NewTokenService("test-secret", 600, "", 8000)
	require.NoError(t, err)
	api := artifacts.NewAPI(store, tokens, log.Discard())
	return api, store, tokens
}

func ingestOne(t *testing.T, store *artifacts.Store, content []byte) string {
	t.Helper()
	ing := artifacts.NewIngester(store, 50, nil)
	path := writeTemp(t, "f.bin", content)
	descs, err := ing.IngestFiles([]string{path}, artifacts.LinkInfo{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	return descs[0].ID
}

func TestAPI_DownloadWithValidToken(t *testing.T) {
	api, store, tokens := newTestAPI(t)
	id := ingestOne(t, store, []byte("payload"))

	r := mux.NewRouter()
	api.Register(r)

	tok := tokens.CreateToken(id, time.Now())
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+id+"?token="+tok, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "payload", w.Body.String())
}

func TestAPI_DownloadRejectsExpiredToken(t *testing.T) {
	api, store, tokens := newTestAPI(t)
	id := ingestOne(t, store, []byte("payload"))

	r := mux.NewRouter()
	api.Register(r)

	past := time.Now().Add(-time.Hour)
	tok := tokens.CreateToken(id, past)
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+id+"?token="+tok, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_DownloadRejectsMismatchedArtifact(t *testing.T) {
	api, store, tokens := newTestAPI(t)
	idA := ingestOne(t, store, []byte("A"))
	idB := ingestOne(t, store, []byte("B"))

	r := mux.NewRouter()
	api.Register(r)

	tok := tokens.CreateToken(idA, time.Now())
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+idB+"?token="+tok, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPI_DownloadGoneWhenBlobDeletedOutOfBand(t *testing.T) {
	api, store, tokens := newTestAPI(t)
	id := ingestOne(t, store, []byte("payload"))

	meta, err := store.GetMetadata(id)
	require.NoError(t, err)
	require.NoError(t, os.Remove(store.BlobPath(meta.SHA256)))

	r := mux.NewRouter()
	api.Register(r)

	tok := tokens.CreateToken(id, time.Now())
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+id+"?token="+tok, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusGone, w.Code)
}

func TestAPI_HeadReturnsMetadata(t *testing.T) {
	api, store, tokens := newTestAPI(t)
	id := ingestOne(t, store, []byte("payload"))

	r := mux.NewRouter()
	api.Register(r)

	tok := tokens.CreateToken(id, time.Now())
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+id+"/head?token="+tok, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), id)
}

func TestAPI_DownloadUnknownArtifactNotFound(t *testing.T) {
	api, _, tokens := newTestAPI(t)

	r := mux.NewRouter()
	api.Register(r)

	tok := tokens.CreateToken("art_unknown", time.Now())
	req := httptest.NewRequest(http.MethodGet, "/artifacts/art_unknown?token="+tok, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
