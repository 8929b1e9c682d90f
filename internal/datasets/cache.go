// Package datasets implements the per-session dataset entry cache and the
// staging/sync pipeline that populates /data inside a session according to
// its configured DatasetAccess mode. Grounded on
// original_source/langgraph_sandbox/dataset_manager/{cache,staging,sync,fetcher}.py.
package datasets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/atomicfile"
	"github.com/sandboxd/sandboxd/internal/config"
)

// Status is the closed set of dataset-loading states, grounded on
// cache.py's DatasetStatus.
type Status string

const (
	StatusLoaded  Status = "loaded"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Entry is one cached dataset entry.
type Entry struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
}

type cacheFile struct {
	Datasets []Entry `json:"datasets"`
}

// CacheFilePath returns the host-side path to a session's structured dataset
// cache file, regardless of TMPFS/BIND storage mode.
func CacheFilePath(cfg *config.Config, sessionID string) string {
	return filepath.Join(cfg.SessionDir(sessionID), cfg.CacheFilename)
}

func readCacheData(cfg *config.Config, sessionID string) (cacheFile, error) {
	p := CacheFilePath(cfg, sessionID)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return cacheFile{}, nil
		}
		return cacheFile{}, apperr.Wrapf(apperr.KindDBError, err, "read dataset cache for %s", sessionID)
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		// Corrupted cache file: treat as empty, matching cache.py's
		// JSONDecodeError handling.
		return cacheFile{}, nil
	}
	return cf, nil
}

func writeCacheData(cfg *config.Config, sessionID string, cf cacheFile) (string, error) {
	p := CacheFilePath(cfg, sessionID)
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return "", apperr.Wrapf(apperr.KindDBError, err, "marshal dataset cache for %s", sessionID)
	}
	if err := atomicfile.Write(p, data, 0o644); err != nil {
		return "", apperr.Wrapf(apperr.KindDBError, err, "write dataset cache for %s", sessionID)
	}
	return p, nil
}

// ReadEntries returns the cached dataset entries, de-duplicated by id,
// first-insertion order preserved.
func ReadEntries(cfg *config.Config, sessionID string) ([]Entry, error) {
	cf, err := readCacheData(cfg, sessionID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := make([]Entry, 0, len(cf.Datasets))
	for _, e := range cf.Datasets {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out, nil
}

// ReadIDs returns the cached dataset ids, de-duplicated, in order.
func ReadIDs(cfg *config.Config, sessionID string) ([]string, error) {
	entries, err := ReadEntries(cfg, sessionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

// ReadPendingIDs returns the ids of entries still in StatusPending, the set
// the sync pipeline needs to load.
func ReadPendingIDs(cfg *config.Config, sessionID string) ([]string, error) {
	entries, err := ReadEntries(cfg, sessionID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Status == StatusPending {
			out = append(out, e.ID)
		}
	}
	return out, nil
}

// IsCached reports whether dsID already has an entry in the cache.
func IsCached(cfg *config.Config, sessionID, dsID string) (bool, error) {
	ids, err := ReadIDs(cfg, sessionID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == dsID {
			return true, nil
		}
	}
	return false, nil
}

// GetEntryStatus returns the status of dsID's entry, or "" if not found.
func GetEntryStatus(cfg *config.Config, sessionID, dsID string) (Status, error) {
	entries, err := ReadEntries(cfg, sessionID)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.ID == dsID {
			return e.Status, nil
		}
	}
	return "", nil
}

// WriteEntries overwrites the cache file with entries, de-duplicated by id
// in first-insertion order.
func WriteEntries(cfg *config.Config, sessionID string, entries []Entry) (string, error) {
	seen := map[string]bool{}
	unique := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		unique = append(unique, e)
	}
	return writeCacheData(cfg, sessionID, cacheFile{Datasets: unique})
}

// AddEntry adds or updates a dataset entry, idempotent on id.
func AddEntry(cfg *config.Config, sessionID, dsID string, status Status) (string, error) {
	entries, err := ReadEntries(cfg, sessionID)
	if err != nil {
		return "", err
	}

	now := nowISO()
	found := false
	for i := range entries {
		if entries[i].ID == dsID {
			entries[i].Status = status
			entries[i].Timestamp = now
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, Entry{ID: dsID, Status: status, Timestamp: now})
	}

	return WriteEntries(cfg, sessionID, entries)
}

// UpdateEntryStatus is AddEntry under a name matching the PENDING->LOADED/
// FAILED transition call sites.
func UpdateEntryStatus(cfg *config.Config, sessionID, dsID string, status Status) (string, error) {
	return AddEntry(cfg, sessionID, dsID, status)
}

// ClearCache empties a session's dataset cache.
func ClearCache(cfg *config.Config, sessionID string) (string, error) {
	return WriteEntries(cfg, sessionID, nil)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
