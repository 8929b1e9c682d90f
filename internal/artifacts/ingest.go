package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/metrics"
)

const (
	defaultMaxArtifactBytes = 50 * 1024 * 1024
	shaChunkSize            = 1024 * 1024
)

// Descriptor is what ingest returns per source file, grounded on ingest.py's
// per-file result dict.
type Descriptor struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Mime      string `json:"mime,omitempty"`
	Size      int64  `json:"size,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// LinkInfo identifies the session/run/tool-call a batch of files is
// attributed to.
type LinkInfo struct {
	SessionID  string
	RunID      *string
	ToolCallID *string
}

// Ingester wraps a Store plus the dependencies ingest needs beyond pure
// catalog access: the per-file size cap and an optional token issuer used
// to populate each descriptor's download URL.
type Ingester struct {
	store           *Store
	maxArtifactSize int64
	tokens          *TokenService // nil disables URL population
}

func NewIngester(store *Store, maxArtifactSizeMB int, tokens *TokenService) *Ingester {
	max := int64(maxArtifactSizeMB) * 1024 * 1024
	if maxArtifactSizeMB <= 0 {
		max = defaultMaxArtifactBytes
	}
	return &Ingester{store: store, maxArtifactSize: max, tokens: tokens}
}

// IngestFiles ingests each existing regular file in hostPaths, per spec.md
// §4.3. Steps 3-4 (dedup upsert + link insert) commit together before the
// source file is deleted; partial failures leave the source intact.
func (ing *Ingester) IngestFiles(hostPaths []string, link LinkInfo) ([]Descriptor, error) {
	descriptors := make([]Descriptor, 0, len(hostPaths))

	for _, p := range hostPaths {
		desc, err := ing.ingestOne(p, link)
		if err != nil {
			return descriptors, err
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

func (ing *Ingester) ingestOne(hostPath string, link LinkInfo) (Descriptor, error) {
	name := filepath.Base(hostPath)

	info, err := os.Stat(hostPath)
	if err != nil {
		return Descriptor{}, apperr.Wrapf(apperr.KindDBError, err, "stat %s", hostPath)
	}

	if info.Size() > ing.maxArtifactSize {
		return Descriptor{
			Name:  name,
			Error: fmt.Sprintf("file exceeds max artifact size of %d bytes", ing.maxArtifactSize),
		}, nil
	}

	sha, err := fileSHA256(hostPath)
	if err != nil {
		return Descriptor{}, apperr.Wrapf(apperr.KindDBError, err, "sha256 %s", hostPath)
	}

	mimeType := sniffMime(name)
	createdAt := nowISO()

	artifactID, err := ing.upsertArtifact(sha, info.Size(), mimeType, name, createdAt, hostPath)
	if err != nil {
		return Descriptor{}, err
	}

	if err := ing.store.insertLink(artifactID, link.SessionID, link.RunID, link.ToolCallID, createdAt); err != nil {
		return Descriptor{}, err
	}

	// Best-effort, per spec.md §4.3 step 5: ingest has already committed.
	_ = os.Remove(hostPath)

	metrics.ArtifactsIngestedTotal.Inc()
	metrics.ArtifactBytesTotal.Add(float64(info.Size()))

	desc := Descriptor{
		ID:        artifactID,
		Name:      name,
		Mime:      mimeType,
		Size:      info.Size(),
		SHA256:    sha,
		CreatedAt: createdAt,
	}
	if ing.tokens != nil {
		if url, err := ing.tokens.CreateDownloadURL(artifactID); err == nil {
			desc.URL = url
		}
	}
	return desc, nil
}

// upsertArtifact dedups by sha256: reuses an existing artifact id if found
// (re-copying the blob if it went missing out-of-band), otherwise generates
// a fresh id, copies bytes into the sha-addressed blob path, and inserts the
// row. Concurrent inserts for the same sha are collapsed via singleflight;
// the loser re-selects rather than erroring.
func (ing *Ingester) upsertArtifact(sha string, size int64, mimeType, name, createdAt, srcPath string) (string, error) {
	v, err, _ := ing.store.insertSF.Do(sha, func() (interface{}, error) {
		existing, err := ing.store.GetBySHA256(sha)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			blobPath := ing.store.BlobPath(sha)
			if _, statErr := os.Stat(blobPath); os.IsNotExist(statErr) {
				if err := copyBytes(srcPath, blobPath); err != nil {
					return nil, apperr.Wrapf(apperr.KindBlobMissing, err, "re-copy blob for %s", sha)
				}
			}
			return existing.ID, nil
		}

		artifactID := newArtifactID()
		blobPath := ing.store.BlobPath(sha)
		if err := copyBytes(srcPath, blobPath); err != nil {
			return nil, apperr.Wrapf(apperr.KindDBError, err, "copy blob for %s", sha)
		}

		row := Artifact{ID: artifactID, SHA256: sha, Size: size, Mime: mimeType, Filename: name, CreatedAt: createdAt}
		if err := ing.store.insertArtifact(row); err != nil {
			// Another goroutine (or process) won the race on sha256's
			// UNIQUE constraint between our SELECT and INSERT; re-select
			// per spec.md's DuplicateShaRace policy.
			existing, selErr := ing.store.GetBySHA256(sha)
			if selErr != nil {
				return nil, selErr
			}
			if existing != nil {
				return existing.ID, nil
			}
			return nil, err
		}
		return artifactID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func copyBytes(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil // already present; avoid re-copy
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp-" + uuid.NewString()
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, shaChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sniffMime(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return "application/octet-stream"
	}
	return t
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// newArtifactID generates a fresh, dot-free opaque id, per spec.md §4.3 and
// the Open Question decision in §9 requiring rejection of "." at generation
// time — this generator simply never produces one.
func newArtifactID() string {
	return "art_" + hex24()
}

func hex24() string {
	id := uuid.New()
	return hex.EncodeToString(id[:12])
}
