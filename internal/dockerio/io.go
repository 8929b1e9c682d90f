package dockerio

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/atomicfile"
)

const base64ChunkSize = 10000

// PutBytes writes data as a file at absPath inside containerID, atomically
// replacing any existing file. It refuses paths ending in "/" (must name a
// file). The parent directory is created first via an in-container mkdir,
// then the payload is wrapped in a single-entry tar archive named by the
// path's basename and streamed into the parent directory via
// CopyToContainer. If that fails, it falls back to a base64-chunked shell
// write. Grounded on io.py's put_bytes, corrected to target the path's
// actual computed parent directory rather than a hardcoded one.
func PutBytes(ctx context.Context, cli Client, containerID, absPath string, data []byte, mode int64) error {
	if strings.HasSuffix(absPath, "/") {
		return apperr.New(apperr.KindPathIsDirectory, fmt.Sprintf("put_bytes: %s is a directory path", absPath))
	}

	parent := path.Dir(absPath)
	name := path.Base(absPath)

	if _, err := ExecRun(ctx, cli, containerID, []string{"mkdir", "-p", parent}); err != nil {
		return apperr.Wrapf(apperr.KindMkdirFailed, err, "mkdir -p %s", parent)
	}

	tarBytes, err := singleFileTar(name, data, mode)
	if err != nil {
		return apperr.Wrapf(apperr.KindPutArchiveFailed, err, "build tar for %s", absPath)
	}

	copyErr := cli.CopyToContainer(ctx, containerID, parent, bytes.NewReader(tarBytes), container.CopyToContainerOptions{})
	if copyErr == nil {
		return nil
	}

	if fallbackErr := putBytesBase64Fallback(ctx, cli, containerID, absPath, data, mode); fallbackErr != nil {
		return apperr.Wrapf(apperr.KindPutArchiveFailed, copyErr, "put-archive failed and base64 fallback also failed: %v", fallbackErr)
	}
	return nil
}

func singleFileTar(name string, data []byte, mode int64) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    mode,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// putBytesBase64Fallback streams data through repeated
// `echo -n '<chunk>' | base64 -d >> path` shell invocations, implementers
// MAY omit this per spec.md §4.2/§9, but it is kept here since it costs
// little and the tar-based path is known to be flaky on some memory-backed
// filesystem drivers.
func putBytesBase64Fallback(ctx context.Context, cli Client, containerID, absPath string, data []byte, mode int64) error {
	if _, err := ExecRun(ctx, cli, containerID, []string{"sh", "-c", fmt.Sprintf(": > %s", shellQuote(absPath))}); err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for i := 0; i < len(encoded); i += base64ChunkSize {
		end := i + base64ChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk := encoded[i:end]
		cmd := fmt.Sprintf("echo -n '%s' | base64 -d >> %s", chunk, shellQuote(absPath))
		res, err := ExecRun(ctx, cli, containerID, []string{"sh", "-c", cmd})
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("base64 chunk write failed: exit %d: %s", res.ExitCode, res.Output)
		}
	}

	if _, err := ExecRun(ctx, cli, containerID, []string{"chmod", strconv.FormatInt(mode, 8), absPath}); err != nil {
		return err
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// FileExists reports whether absPath names a regular file inside
// containerID, via an in-container `test -f` equivalent.
func FileExists(ctx context.Context, cli Client, containerID, absPath string) (bool, error) {
	res, err := ExecRun(ctx, cli, containerID, []string{"/bin/sh", "-c", "test -f " + shellQuote(absPath)})
	if err != nil {
		return false, apperr.Wrapf(apperr.KindFileNotFoundInContainer, err, "test -f %s", absPath)
	}
	return res.ExitCode == 0, nil
}

// CopyOut extracts the single regular file at absPath from containerID into
// dstDir/<basename>, tolerating transient metadata propagation delays on
// memory-backed filesystems by trying, in order: get-archive on the file,
// get-archive on its parent (extracting by exact name or basename), and
// `tar -cf -` over exec. Each attempt is retried up to five times with a
// short backoff. Grounded on session_manager.py's _copy_from_container.
func CopyOut(ctx context.Context, cli Client, containerID, absPath, dstDir string) (string, error) {
	name := path.Base(absPath)
	dst := path.Join(dstDir, name)

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			time.Sleep(50 * time.Millisecond)
		}

		if data, err := tryGetArchiveExact(ctx, cli, containerID, absPath, name); err == nil {
			return dst, writeFile(dst, data)
		} else {
			lastErr = err
		}

		if data, err := tryGetArchiveParent(ctx, cli, containerID, absPath, name); err == nil {
			return dst, writeFile(dst, data)
		} else {
			lastErr = err
		}

		if data, err := tryExecTar(ctx, cli, containerID, absPath); err == nil {
			return dst, writeFile(dst, data)
		} else {
			lastErr = err
		}
	}

	return "", apperr.Wrapf(apperr.KindCopyOutFailed, lastErr, "copy_out %s after retries", absPath)
}

func tryGetArchiveExact(ctx context.Context, cli Client, containerID, absPath, name string) ([]byte, error) {
	rc, _, err := cli.CopyFromContainer(ctx, containerID, absPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return extractTarMember(rc, name)
}

func tryGetArchiveParent(ctx context.Context, cli Client, containerID, absPath, name string) ([]byte, error) {
	parent := path.Dir(absPath)
	rc, _, err := cli.CopyFromContainer(ctx, containerID, parent)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return extractTarMember(rc, name)
}

func tryExecTar(ctx context.Context, cli Client, containerID, absPath string) ([]byte, error) {
	parent := path.Dir(absPath)
	name := path.Base(absPath)
	res, err := ExecRun(ctx, cli, containerID, []string{"sh", "-c", fmt.Sprintf("cd %s && tar -cf - %s", shellQuote(parent), shellQuote(name))})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("tar -cf - failed: exit %d", res.ExitCode)
	}
	return extractTarMember(strings.NewReader(res.Output), name)
}

// extractTarMember scans a tar stream for an entry whose name matches
// exactly, falling back to a basename match (get-archive on a directory
// prefixes entry names with the directory's own basename).
func extractTarMember(r io.Reader, name string) ([]byte, error) {
	tr := tar.NewReader(r)
	var fallback []byte
	var foundFallback bool
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		if hdr.Name == name {
			return data, nil
		}
		if path.Base(hdr.Name) == name && !foundFallback {
			fallback = data
			foundFallback = true
		}
	}
	if foundFallback {
		return fallback, nil
	}
	return nil, fmt.Errorf("tar member %q not found", name)
}

func writeFile(dst string, data []byte) error {
	return atomicfile.Write(dst, data, 0o644)
}
