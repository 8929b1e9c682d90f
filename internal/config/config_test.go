package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SESSION_STORAGE", "DATASET_ACCESS", "SESSIONS_ROOT", "DATASETS_HOST_RO",
		"HYBRID_LOCAL_PATH", "BLOBSTORE_DIR", "ARTIFACTS_DB", "CACHE_FILENAME",
		"SANDBOX_IMAGE", "TMPFS_SIZE_MB", "SANDBOX_ADDRESS_STRATEGY",
		"COMPOSE_NETWORK", "HOST_GATEWAY", "ARTIFACTS_SECRET",
		"ARTIFACTS_TOKEN_TTL_SECONDS", "ARTIFACTS_PUBLIC_BASE_URL",
		"ARTIFACTS_SERVER_PORT", "MAX_ARTIFACT_SIZE_MB",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv("")
	require.NoError(t, err)
	require.Equal(t, TMPFS, cfg.SessionStorage)
	require.Equal(t, DatasetNone, cfg.DatasetAccess)
	require.Equal(t, defaultCacheFilename, cfg.CacheFilename)
	require.Equal(t, "/session", cfg.ContainerSessionPath)
	require.Equal(t, "/data", cfg.ContainerDataPath)
	require.Equal(t, "TMPFS_NONE", cfg.ModeID())
}

func TestFromEnv_LocalROWithoutPathFails(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATASET_ACCESS", "LOCAL_RO")
	defer os.Unsetenv("DATASET_ACCESS")

	_, err := FromEnv("")
	require.Error(t, err)
}

func TestFromEnv_HybridWithoutPathFails(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATASET_ACCESS", "HYBRID")
	defer os.Unsetenv("DATASET_ACCESS")

	_, err := FromEnv("")
	require.Error(t, err)
}

func TestFromEnv_InvalidEnum(t *testing.T) {
	clearEnv(t)
	os.Setenv("SESSION_STORAGE", "DISK")
	defer os.Unsetenv("SESSION_STORAGE")

	_, err := FromEnv("")
	require.Error(t, err)
}

func TestFromEnv_FileOverridesProcessEnvAndDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, "sandbox.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SESSION_STORAGE=BIND # comment\nSANDBOX_IMAGE=custom:latest\n"), 0o644))

	os.Setenv("SANDBOX_IMAGE", "from-process-env:latest")
	defer os.Unsetenv("SANDBOX_IMAGE")
	defer os.Unsetenv("SESSION_STORAGE")

	cfg, err := FromEnv(envFile)
	require.NoError(t, err)
	require.Equal(t, BIND, cfg.SessionStorage)
	require.Equal(t, "custom:latest", cfg.SandboxImage)
}

func TestModeID(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATASET_ACCESS", "HYBRID")
	os.Setenv("HYBRID_LOCAL_PATH", "/tmp/hybrid")
	defer os.Unsetenv("DATASET_ACCESS")
	defer os.Unsetenv("HYBRID_LOCAL_PATH")

	cfg, err := FromEnv("")
	require.NoError(t, err)
	require.Equal(t, "TMPFS_HYBRID", cfg.ModeID())
}
