package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sandboxd/sandboxd/internal/apperr"
)

// API serves the two token-gated artifact endpoints on a gorilla/mux
// sub-router, grounded on original_source/langgraph_sandbox/artifacts/api.py
// translated from its FastAPI router. The routing library itself is the
// teacher's indirect dependency github.com/gorilla/mux.
type API struct {
	store  *Store
	tokens *TokenService
	log    *logrus.Entry
}

func NewAPI(store *Store, tokens *TokenService, log *logrus.Entry) *API {
	return &API{store: store, tokens: tokens, log: log}
}

// Register mounts the two endpoints under /artifacts on r.
func (a *API) Register(r *mux.Router) {
	sub := r.PathPrefix("/artifacts").Subrouter()
	sub.HandleFunc("/{id}/head", a.handleHead).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", a.handleDownload).Methods(http.MethodGet)
}

// verify performs the shared token checks for both endpoints: 401 on
// format/signature/expiry failure, 403 on artifact-id mismatch.
func (a *API) verify(w http.ResponseWriter, r *http.Request, id string) (ok bool) {
	token := r.URL.Query().Get("token")
	claims, err := a.tokens.VerifyToken(token, time.Now())
	if err != nil {
		a.log.WithError(err).WithField("artifact_id", id).Warn("artifact token rejected")
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return false
	}
	if claims.ArtifactID != id {
		http.Error(w, "token does not match artifact", http.StatusForbidden)
		return false
	}
	return true
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !a.verify(w, r, id) {
		return
	}

	data, meta, err := a.store.ReadBytes(id)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindBlobMissing {
			http.Error(w, "blob missing", http.StatusGone)
			return
		}
		a.log.WithError(err).WithField("artifact_id", id).Error("read artifact blob")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if meta == nil {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", meta.Mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, meta.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (a *API) handleHead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !a.verify(w, r, id) {
		return
	}

	meta, err := a.store.GetMetadata(id)
	if err != nil {
		a.log.WithError(err).WithField("artifact_id", id).Error("lookup artifact metadata")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if meta == nil {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":         meta.ID,
		"sha256":     meta.SHA256,
		"mime":       meta.Mime,
		"filename":   meta.Filename,
		"size":       meta.Size,
		"created_at": meta.CreatedAt,
	})
}
