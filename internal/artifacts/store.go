// Package artifacts implements the content-addressed blob store, metadata
// catalog, dedup ingest, signed-token issuance/verification, and the
// token-gated HTTP read API (spec.md C3-C5). Grounded on
// original_source/langgraph_sandbox/artifacts/{store,ingest,tokens,reader,api}.py.
package artifacts

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/sandboxd/sandboxd/internal/apperr"
)

// Artifact is one row of the artifacts table.
type Artifact struct {
	ID        string
	SHA256    string
	Size      int64
	Mime      string
	Filename  string
	CreatedAt string
}

// Store owns the blob root and the metadata catalog. Safe for concurrent
// use: SQLite is opened in WAL mode and writes are additionally serialized
// per-sha256 via a singleflight group to collapse the DuplicateShaRace
// window spec.md §7 names.
type Store struct {
	blobRoot string
	db       *sql.DB
	insertSF singleflight.Group
}

// Open creates the blob root and the metadata database if they do not
// exist, and bootstraps the schema. Bootstrap is idempotent.
func Open(blobRoot, dbPath string) (*Store, error) {
	if err := os.MkdirAll(blobRoot, 0o755); err != nil {
		return nil, apperr.Wrapf(apperr.KindDBError, err, "create blob root %s", blobRoot)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrapf(apperr.KindDBError, err, "create db dir %s", dir)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindDBError, err, "open %s", dbPath)
	}
	// The sqlite3 driver serializes writers per *sql.DB; a single
	// connection avoids "database is locked" errors under WAL with
	// concurrent writers from this process.
	db.SetMaxOpenConns(1)

	s := &Store{blobRoot: blobRoot, db: db}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrap() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			sha256 TEXT UNIQUE NOT NULL,
			size INTEGER NOT NULL,
			mime TEXT NOT NULL,
			filename TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_sha256 ON artifacts(sha256)`,
		`CREATE TABLE IF NOT EXISTS links (
			artifact_id TEXT NOT NULL REFERENCES artifacts(id),
			session_id TEXT NOT NULL,
			run_id TEXT,
			tool_call_id TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_artifact_id ON links(artifact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_links_session_id ON links(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return apperr.Wrapf(apperr.KindDBError, err, "bootstrap: %s", stmt)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// BlobPath returns the sha-sharded path for a content hash, per spec.md §3:
// <blob_root>/<sha[0:2]>/<sha[2:4]>/<sha>.
func (s *Store) BlobPath(sha256 string) string {
	return filepath.Join(s.blobRoot, sha256[0:2], sha256[2:4], sha256)
}

// GetBySHA256 returns the artifact row for sha256, if any.
func (s *Store) GetBySHA256(sha256 string) (*Artifact, error) {
	return s.queryOne(`SELECT id, sha256, size, mime, filename, created_at FROM artifacts WHERE sha256 = ?`, sha256)
}

// GetByID returns the artifact row for id, if any.
func (s *Store) GetByID(id string) (*Artifact, error) {
	return s.queryOne(`SELECT id, sha256, size, mime, filename, created_at FROM artifacts WHERE id = ?`, id)
}

func (s *Store) queryOne(query string, arg string) (*Artifact, error) {
	row := s.db.QueryRow(query, arg)
	var a Artifact
	if err := row.Scan(&a.ID, &a.SHA256, &a.Size, &a.Mime, &a.Filename, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Wrapf(apperr.KindDBError, err, "query artifact")
	}
	return &a, nil
}

// insertArtifact inserts a fresh artifacts row, returning KindDuplicateShaRace
// if a concurrent insert for the same sha256 beat this one to it (the
// caller should re-select).
func (s *Store) insertArtifact(a Artifact) error {
	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, sha256, size, mime, filename, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SHA256, a.Size, a.Mime, a.Filename, a.CreatedAt,
	)
	if err != nil {
		return apperr.Wrapf(apperr.KindDuplicateShaRace, err, "insert artifact %s", a.SHA256)
	}
	return nil
}

// insertLink inserts a links row. Links are never deduplicated.
func (s *Store) insertLink(artifactID, sessionID string, runID, toolCallID *string, createdAt string) error {
	_, err := s.db.Exec(
		`INSERT INTO links (artifact_id, session_id, run_id, tool_call_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		artifactID, sessionID, runID, toolCallID, createdAt,
	)
	if err != nil {
		return apperr.Wrapf(apperr.KindDBError, err, "insert link for %s", artifactID)
	}
	return nil
}

// ListForSession returns every artifact linked to sessionID, most-recent
// first, grounded on reader.py's fetch_artifact_urls.
func (s *Store) ListForSession(sessionID string) ([]Artifact, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.sha256, a.size, a.mime, a.filename, a.created_at
		 FROM artifacts a JOIN links l ON l.artifact_id = a.id
		 WHERE l.session_id = ?
		 ORDER BY a.created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindDBError, err, "list artifacts for session %s", sessionID)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.SHA256, &a.Size, &a.Mime, &a.Filename, &a.CreatedAt); err != nil {
			return nil, apperr.Wrapf(apperr.KindDBError, err, "scan artifact row")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
