// Package atomicfile writes files via temp-file-plus-rename so readers
// always see either the old or the new content, grounded on
// danielloader-oci-pull-through's internal/cache/fs.go atomicWrite and
// required throughout by spec.md (dataset cache writes, dataset staging
// writes, session metadata files).
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write creates any missing parent directories, then writes data to path by
// writing to a sibling temp file and renaming it over the destination.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
