package artifacts

import (
	"os"
	"path/filepath"

	"github.com/sandboxd/sandboxd/internal/apperr"
)

// GCReport is the result of a report-only sweep comparing the blob store's
// on-disk contents against the catalog. Nothing is deleted; spec.md lists
// garbage collection itself as a Non-goal, but an operator still needs a way
// to see what a future GC pass would touch.
type GCReport struct {
	// OrphanBlobs are sha-addressed files on disk with no artifacts row.
	OrphanBlobs []string
	// MissingBlobs are artifacts rows whose blob file is absent from disk.
	MissingBlobs []string
	ScannedBlobs int
	ScannedRows  int
}

// GCCheck walks the blob root and cross-references it against the artifacts
// table, grounded on the dedup-check half of ingest.py's upsert path (the
// same sha-to-path derivation BlobPath uses) run in reverse over the whole
// store.
func (s *Store) GCCheck() (GCReport, error) {
	var report GCReport

	cataloged := map[string]bool{}
	rows, err := s.db.Query(`SELECT sha256 FROM artifacts`)
	if err != nil {
		return report, apperr.Wrapf(apperr.KindDBError, err, "list catalog sha256s")
	}
	for rows.Next() {
		var sha string
		if err := rows.Scan(&sha); err != nil {
			rows.Close()
			return report, apperr.Wrapf(apperr.KindDBError, err, "scan catalog sha256")
		}
		cataloged[sha] = true
		report.ScannedRows++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, apperr.Wrapf(apperr.KindDBError, err, "iterate catalog sha256s")
	}

	onDisk := map[string]bool{}
	err = filepath.Walk(s.blobRoot, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		sha := filepath.Base(path)
		onDisk[sha] = true
		report.ScannedBlobs++
		if !cataloged[sha] {
			report.OrphanBlobs = append(report.OrphanBlobs, sha)
		}
		return nil
	})
	if err != nil {
		return report, apperr.Wrapf(apperr.KindDBError, err, "walk blob root %s", s.blobRoot)
	}

	for sha := range cataloged {
		if !onDisk[sha] {
			report.MissingBlobs = append(report.MissingBlobs, sha)
		}
	}

	return report, nil
}
