package dockerio_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/internal/dockerio"
	"github.com/sandboxd/sandboxd/internal/dockerio/dockerfake"
)

func TestPutBytesThenFileExists(t *testing.T) {
	cli := dockerfake.New()
	ctx := context.Background()

	err := dockerio.PutBytes(ctx, cli, "c1", "/session/artifacts/a.txt", []byte("hello"), 0o644)
	require.NoError(t, err)

	exists, err := dockerio.FileExists(ctx, cli, "c1", "/session/artifacts/a.txt")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = dockerio.FileExists(ctx, cli, "c1", "/session/artifacts/missing.txt")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPutBytesRejectsDirectoryPath(t *testing.T) {
	cli := dockerfake.New()
	err := dockerio.PutBytes(context.Background(), cli, "c1", "/session/artifacts/", []byte("x"), 0o644)
	require.Error(t, err)
}

func TestCopyOutRoundTrips(t *testing.T) {
	cli := dockerfake.New()
	ctx := context.Background()

	payload := []byte("the quick brown fox")
	require.NoError(t, dockerio.PutBytes(ctx, cli, "c1", "/session/artifacts/a.txt", payload, 0o644))

	dstDir := t.TempDir()
	dst, err := dockerio.CopyOut(ctx, cli, "c1", "/session/artifacts/a.txt", dstDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dstDir, "a.txt"), dst)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
