package artifacts

import (
	"os"

	"github.com/sandboxd/sandboxd/internal/apperr"
)

// GetMetadata returns the catalog row for artifactID, grounded on
// reader.py's get_metadata. Returns nil, nil if the id is unknown.
func (s *Store) GetMetadata(artifactID string) (*Artifact, error) {
	return s.GetByID(artifactID)
}

// ReadBytes returns the raw blob bytes for artifactID, grounded on
// reader.py's read_bytes. Returns apperr.KindBlobMissing if the catalog row
// exists but the blob file does not (spec.md §8's out-of-band-deletion
// boundary case).
func (s *Store) ReadBytes(artifactID string) ([]byte, *Artifact, error) {
	a, err := s.GetByID(artifactID)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, nil
	}
	data, err := os.ReadFile(s.BlobPath(a.SHA256))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, a, apperr.New(apperr.KindBlobMissing, "blob missing for "+artifactID)
		}
		return nil, a, apperr.Wrapf(apperr.KindDBError, err, "read blob for %s", artifactID)
	}
	return data, a, nil
}
