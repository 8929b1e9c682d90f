// Package config resolves the frozen process configuration: session storage
// mode, dataset access mode, host paths, and the fixed in-container paths.
// Grounded on original_source/langgraph_sandbox/config.py's Config.from_env,
// with the env-default-fallback idiom (envOr) taken from
// danielloader-oci-pull-through's internal/config/config.go, and partial
// overlay merging done with the teacher's own github.com/imdario/mergo.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/imdario/mergo"
)

// SessionStorage is a closed set of where a session's /session directory
// lives.
type SessionStorage string

const (
	TMPFS SessionStorage = "TMPFS"
	BIND  SessionStorage = "BIND"
)

// DatasetAccess is a closed set of how /data is populated inside a session.
type DatasetAccess string

const (
	DatasetNone    DatasetAccess = "NONE"
	DatasetLocalRO DatasetAccess = "LOCAL_RO"
	DatasetAPI     DatasetAccess = "API"
	DatasetHybrid  DatasetAccess = "HYBRID"
)

// Config is the immutable, fully-resolved configuration record. Construct it
// only via FromEnv; callers must treat the returned value as read-only.
type Config struct {
	SessionStorage SessionStorage
	DatasetAccess  DatasetAccess

	SessionsRoot    string
	DatasetsHostRO  string
	HybridLocalPath string

	BlobstoreDir  string
	ArtifactsDB   string
	CacheFilename string

	SandboxImage string
	TmpfsSizeMB  int

	AddressStrategy string // "container" or "host"
	ComposeNetwork  string
	HostGateway     string // explicit override; empty means auto-detect

	ArtifactsSecret           string
	ArtifactsTokenTTLSeconds  int
	ArtifactsPublicBaseURL    string
	ArtifactsServerPortHint   int
	MaxArtifactSizeMB         int

	// Fixed in-container paths. Not configurable by design (spec.md §4.1).
	ContainerSessionPath string
	ContainerDataPath    string
	ContainerDataStaged  string
	ContainerDataRO      string
	ContainerHybridPath  string
}

const (
	defaultCacheFilename      = "cache_datasets.json"
	defaultSandboxImage       = "sandbox:latest"
	defaultTmpfsSizeMB        = 1024
	defaultAddressStrategy    = "container"
	defaultTokenTTLSeconds    = 600
	defaultMaxArtifactSizeMB  = 50
	defaultArtifactsServerPort = 8000
	containerSessionPath      = "/session"
	containerDataPath         = "/data"
	containerDataStagedPath  = "/data"
	containerDataROPath      = "/data"
	containerHybridPath      = "/heavy_data"
)

// fileVars is the parsed contents of an optional key=value file, consulted
// after an explicit override and before the process environment.
type fileVars map[string]string

// FromEnv resolves configuration following the order: explicit argument >
// key=value file entries > process environment > default. envFilePath may
// be empty, in which case only env + defaults apply.
func FromEnv(envFilePath string) (*Config, error) {
	vars, err := loadEnvFile(envFilePath)
	if err != nil {
		return nil, fmt.Errorf("load env file %s: %w", envFilePath, err)
	}

	// Downstream collaborators (e.g. the docker client, which reads
	// DOCKER_HOST directly) must see file-sourced values too; only fill
	// in keys that are not already set in the process environment.
	for k, v := range vars {
		if _, ok := os.LookupEnv(k); !ok {
			os.Setenv(k, v)
		}
	}

	get := func(key, def string) string { return getValue(vars, key, def) }

	sessionStorage, err := parseEnum(get("SESSION_STORAGE", string(TMPFS)), []SessionStorage{TMPFS, BIND})
	if err != nil {
		return nil, err
	}
	datasetAccess, err := parseDatasetEnum(get("DATASET_ACCESS", string(DatasetNone)))
	if err != nil {
		return nil, err
	}

	tmpfsSize, err := getInt(vars, "TMPFS_SIZE_MB", defaultTmpfsSizeMB)
	if err != nil {
		return nil, err
	}
	tokenTTL, err := getInt(vars, "ARTIFACTS_TOKEN_TTL_SECONDS", defaultTokenTTLSeconds)
	if err != nil {
		return nil, err
	}
	maxArtifactMB, err := getInt(vars, "MAX_ARTIFACT_SIZE_MB", defaultMaxArtifactSizeMB)
	if err != nil {
		return nil, err
	}
	serverPortHint, err := getInt(vars, "ARTIFACTS_SERVER_PORT", defaultArtifactsServerPort)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SessionStorage: sessionStorage,
		DatasetAccess:  datasetAccess,

		SessionsRoot:    get("SESSIONS_ROOT", "./sessions"),
		DatasetsHostRO:  get("DATASETS_HOST_RO", ""),
		HybridLocalPath: get("HYBRID_LOCAL_PATH", ""),

		BlobstoreDir:  get("BLOBSTORE_DIR", "./blobstore"),
		ArtifactsDB:   get("ARTIFACTS_DB", "./artifacts.db"),
		CacheFilename: get("CACHE_FILENAME", defaultCacheFilename),

		SandboxImage: get("SANDBOX_IMAGE", defaultSandboxImage),
		TmpfsSizeMB:  tmpfsSize,

		AddressStrategy: get("SANDBOX_ADDRESS_STRATEGY", defaultAddressStrategy),
		ComposeNetwork:  get("COMPOSE_NETWORK", "sandboxd"),
		HostGateway:     get("HOST_GATEWAY", ""),

		ArtifactsSecret:          get("ARTIFACTS_SECRET", ""),
		ArtifactsTokenTTLSeconds: tokenTTL,
		ArtifactsPublicBaseURL:   get("ARTIFACTS_PUBLIC_BASE_URL", ""),
		ArtifactsServerPortHint:  serverPortHint,
		MaxArtifactSizeMB:        maxArtifactMB,

		ContainerSessionPath: containerSessionPath,
		ContainerDataPath:    containerDataPath,
		ContainerDataStaged:  containerDataStagedPath,
		ContainerDataRO:      containerDataROPath,
		ContainerHybridPath:  containerHybridPath,
	}

	if err := applyDefaultsOverlay(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaultsOverlay merges a zero-value defaults struct under cfg via
// mergo, the same role it plays in the teacher's NewCommandObject: it fills
// any field left as its Go zero value (a defensive backstop in case a
// resolver above ever leaves one unset) without clobbering fields already
// resolved from file/env.
func applyDefaultsOverlay(cfg *Config) error {
	defaults := Config{
		CacheFilename:            defaultCacheFilename,
		SandboxImage:             defaultSandboxImage,
		TmpfsSizeMB:              defaultTmpfsSizeMB,
		AddressStrategy:          defaultAddressStrategy,
		ArtifactsTokenTTLSeconds: defaultTokenTTLSeconds,
		MaxArtifactSizeMB:        defaultMaxArtifactSizeMB,
		ContainerSessionPath:     containerSessionPath,
		ContainerDataPath:        containerDataPath,
		ContainerDataStaged:      containerDataStagedPath,
		ContainerDataRO:          containerDataROPath,
		ContainerHybridPath:      containerHybridPath,
	}
	return mergo.Merge(cfg, defaults)
}

func (c *Config) validate() error {
	switch c.DatasetAccess {
	case DatasetLocalRO:
		if c.DatasetsHostRO == "" {
			return fmt.Errorf("config: DATASET_ACCESS=LOCAL_RO requires DATASETS_HOST_RO")
		}
	case DatasetHybrid:
		if c.HybridLocalPath == "" {
			return fmt.Errorf("config: DATASET_ACCESS=HYBRID requires HYBRID_LOCAL_PATH")
		}
	case DatasetNone:
		c.DatasetsHostRO = ""
	}
	return nil
}

// IsTMPFS, IsBind, and the dataset-mode predicates mirror config.py's
// properties and are used throughout internal/session and internal/datasets
// to dispatch on the tagged-variant enums.
func (c *Config) IsTMPFS() bool       { return c.SessionStorage == TMPFS }
func (c *Config) IsBind() bool        { return c.SessionStorage == BIND }
func (c *Config) UsesAPIStaging() bool { return c.DatasetAccess == DatasetAPI || c.DatasetAccess == DatasetHybrid }
func (c *Config) UsesLocalRO() bool    { return c.DatasetAccess == DatasetLocalRO }
func (c *Config) UsesNoDatasets() bool { return c.DatasetAccess == DatasetNone }
func (c *Config) UsesHybrid() bool     { return c.DatasetAccess == DatasetHybrid }

// SessionDir returns the host directory backing a BIND-mode session.
func (c *Config) SessionDir(sessionID string) string {
	return c.SessionsRoot + "/" + sessionID
}

// ModeID produces the telemetry string e.g. "TMPFS_API", "BIND_HYBRID".
func (c *Config) ModeID() string {
	storage := "BIND"
	if c.IsTMPFS() {
		storage = "TMPFS"
	}
	access := string(c.DatasetAccess)
	if access == "" {
		access = string(DatasetAPI)
	}
	return storage + "_" + access
}

func parseEnum(v string, allowed []SessionStorage) (SessionStorage, error) {
	for _, a := range allowed {
		if string(a) == v {
			return a, nil
		}
	}
	return "", fmt.Errorf("config: invalid SESSION_STORAGE %q, allowed: %v", v, allowed)
}

func parseDatasetEnum(v string) (DatasetAccess, error) {
	allowed := []DatasetAccess{DatasetNone, DatasetLocalRO, DatasetAPI, DatasetHybrid}
	for _, a := range allowed {
		if string(a) == v {
			return a, nil
		}
	}
	return "", fmt.Errorf("config: invalid DATASET_ACCESS %q, allowed: %v", v, allowed)
}

func getValue(vars fileVars, key, def string) string {
	if v, ok := vars[key]; ok && v != "" {
		return v
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(vars fileVars, key string, def int) (int, error) {
	raw := getValue(vars, key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, raw)
	}
	return n, nil
}

// loadEnvFile parses a key=value file, stripping full-line and inline `#`
// comments and surrounding whitespace. A missing path is not an error: it
// just yields no overrides.
func loadEnvFile(path string) (fileVars, error) {
	vars := fileVars{}
	if path == "" {
		return vars, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vars, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			continue
		}
		vars[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}
