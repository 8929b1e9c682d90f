// Package dockerfake is a hand-written fake satisfying dockerio.Client,
// grounded on the teacher's pkg/commands/dummies.go and runtime_mock.go
// pattern of constructing a fake backing object for tests without a real
// daemon.
package dockerfake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"

	"github.com/sandboxd/sandboxd/internal/dockerio"
)

// FakeFile is one regular file tracked by the fake filesystem.
type FakeFile struct {
	Data []byte
	Mode int64
}

// Client is an in-memory stand-in for a single container's filesystem and
// command surface.
type Client struct {
	mu sync.Mutex

	// Files maps an absolute in-container path to its contents.
	Files map[string]*FakeFile

	// CmdHandler lets tests script exec_run responses for arbitrary
	// commands (mkdir -p, test -f, tar, chmod, ...). If nil, a built-in
	// handler answers test -f from Files; every other command (including
	// mkdir, chmod and tar) succeeds with empty output.
	CmdHandler func(cmd []string) (output string, exitCode int)

	execIDSeq  int
	execByID   map[string][]string
	execResult map[string]container.ExecInspect
}

func New() *Client {
	return &Client{
		Files:      map[string]*FakeFile{},
		execByID:   map[string][]string{},
		execResult: map[string]container.ExecInspect{},
	}
}

func (c *Client) ContainerExecCreate(_ context.Context, _ string, opts container.ExecOptions) (container.ExecCreateResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execIDSeq++
	id := fmt.Sprintf("exec-%d", c.execIDSeq)
	c.execByID[id] = opts.Cmd
	return container.ExecCreateResponse{ID: id}, nil
}

func (c *Client) ContainerExecAttach(_ context.Context, execID string, _ container.ExecAttachOptions) (dockerio.ContainerExecAttachResult, error) {
	c.mu.Lock()
	cmd := c.execByID[execID]
	c.mu.Unlock()

	output, exitCode := c.runCmd(cmd)

	c.mu.Lock()
	c.execResult[execID] = container.ExecInspect{ExitCode: exitCode}
	c.mu.Unlock()

	return &fakeAttach{r: bytes.NewReader([]byte(output))}, nil
}

func (c *Client) ContainerExecInspect(_ context.Context, execID string) (container.ExecInspect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execResult[execID], nil
}

func (c *Client) runCmd(cmd []string) (string, int) {
	if c.CmdHandler != nil {
		return c.CmdHandler(cmd)
	}
	if len(cmd) == 0 {
		return "", 0
	}
	switch {
	case len(cmd) >= 2 && cmd[0] == "mkdir":
		return "", 0
	case len(cmd) >= 1 && cmd[0] == "chmod":
		return "", 0
	case containsTestF(cmd):
		path := quotedArg(lastArg(cmd))
		c.mu.Lock()
		_, ok := c.Files[path]
		c.mu.Unlock()
		if ok {
			return "", 0
		}
		return "", 1
	default:
		return "", 0
	}
}

func containsTestF(cmd []string) bool {
	for _, a := range cmd {
		if len(a) >= 7 && a[:7] == "test -f" {
			return true
		}
	}
	return false
}

func lastArg(cmd []string) string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[len(cmd)-1]
}

// quotedArg extracts the content of a single-quoted shell argument like
// "test -f '/session/a.txt'" -> "/session/a.txt".
func quotedArg(s string) string {
	first := -1
	last := -1
	for i, r := range s {
		if r == '\'' {
			if first == -1 {
				first = i
			} else {
				last = i
			}
		}
	}
	if first == -1 || last == -1 || last <= first {
		return s
	}
	return s[first+1 : last]
}

func (c *Client) CopyToContainer(_ context.Context, _ string, dstPath string, content io.Reader, _ container.CopyToContainerOptions) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	name, fileData, mode, err := readSingleFileTar(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Files[dstPath+"/"+name] = &FakeFile{Data: fileData, Mode: mode}
	return nil
}

func (c *Client) CopyFromContainer(_ context.Context, _ string, srcPath string) (io.ReadCloser, container.PathStat, error) {
	c.mu.Lock()
	f, ok := c.Files[srcPath]
	c.mu.Unlock()
	if !ok {
		return nil, container.PathStat{}, fmt.Errorf("not found: %s", srcPath)
	}
	tarBytes, err := writeSingleFileTar(baseName(srcPath), f.Data, f.Mode)
	if err != nil {
		return nil, container.PathStat{}, err
	}
	return io.NopCloser(bytes.NewReader(tarBytes)), container.PathStat{}, nil
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

type fakeAttach struct {
	r io.Reader
}

func (f *fakeAttach) Reader() io.Reader { return f.r }
func (f *fakeAttach) Close()            {}
