package dockerfake

import (
	"archive/tar"
	"bytes"
	"io"
)

func readSingleFileTar(data []byte) (name string, content []byte, mode int64, err error) {
	tr := tar.NewReader(bytes.NewReader(data))
	hdr, err := tr.Next()
	if err != nil {
		return "", nil, 0, err
	}
	content, err = io.ReadAll(tr)
	if err != nil {
		return "", nil, 0, err
	}
	return hdr.Name, content, hdr.Mode, nil
}

func writeSingleFileTar(name string, data []byte, mode int64) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: mode}); err != nil {
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
