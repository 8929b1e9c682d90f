package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandboxd/sandboxd/internal/atomicfile"
)

const sessionLogFilename = "session.log"
const sessionMetadataFilename = "session_metadata.json"

// appendSessionLog appends one JSON line to sessionDir/session.log,
// grounded on session_manager.py's _write_session_log. A no-op for TMPFS
// sessions (sessionDir is empty); errors are swallowed, matching the
// reference's "logging must never fail the main execution" stance.
func appendSessionLog(sessionDir, event string, fields map[string]interface{}) {
	if sessionDir == "" {
		return
	}
	entry := map[string]interface{}{"event": event, "at": nowISO()}
	for k, v := range fields {
		entry[k] = v
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(sessionDir, sessionLogFilename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, string(line))
}

// writeSessionMetadata read-modify-writes sessionDir/session_metadata.json,
// merging updates over whatever is already there, grounded on
// session_manager.py's _write_session_metadata.
func writeSessionMetadata(sessionDir string, updates map[string]interface{}) {
	if sessionDir == "" {
		return
	}
	path := filepath.Join(sessionDir, sessionMetadataFilename)

	existing := map[string]interface{}{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &existing)
	}
	for k, v := range updates {
		existing[k] = v
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return
	}
	_ = atomicfile.Write(path, data, 0o644)
}

// bumpExecutionCount increments session_metadata.json's execution_count
// field, grounded on session_manager.py's _get_execution_count.
func bumpExecutionCount(sessionDir string) {
	if sessionDir == "" {
		return
	}
	path := filepath.Join(sessionDir, sessionMetadataFilename)
	existing := map[string]interface{}{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &existing)
	}
	count := 0
	if v, ok := existing["execution_count"].(float64); ok {
		count = int(v)
	}
	existing["execution_count"] = count + 1
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return
	}
	_ = atomicfile.Write(path, data, 0o644)
}
