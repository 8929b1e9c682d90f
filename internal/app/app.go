// Package app wires every component into one process, adapted from the
// teacher's pkg/app/app.go "App struct holds every component, NewApp wires
// them in dependency order" shape, rehosted from a TUI bootstrap onto a
// headless HTTP service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sandboxd/sandboxd/internal/artifacts"
	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/datasets"
	"github.com/sandboxd/sandboxd/internal/dockerio"
	"github.com/sandboxd/sandboxd/internal/log"
	"github.com/sandboxd/sandboxd/internal/metrics"
	"github.com/sandboxd/sandboxd/internal/session"
)

// App holds every wired component, grounded on the teacher's App struct.
type App struct {
	Config  *config.Config
	Log     *logrus.Entry
	Docker  *dockerio.DockerClient
	Store   *artifacts.Store
	Tokens  *artifacts.TokenService
	Ingest  *artifacts.Ingester
	API     *artifacts.API
	Session *session.Manager

	router *mux.Router
	server *http.Server
}

// NewApp wires config, docker, the artifact store/token/API stack, and the
// session manager in dependency order, the way NewApp does in the teacher.
func NewApp(cfg *config.Config, buildInfo log.BuildInfo, debug bool) (*App, error) {
	a := &App{Config: cfg}

	a.Log = log.New(debug, buildInfo)

	docker, err := dockerio.NewDockerClient()
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	a.Docker = docker

	store, err := artifacts.Open(cfg.BlobstoreDir, cfg.ArtifactsDB)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	a.Store = store

	tokens, err := artifacts.NewTokenService(cfg.ArtifactsSecret, cfg.ArtifactsTokenTTLSeconds, cfg.ArtifactsPublicBaseURL, cfg.ArtifactsServerPortHint)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	a.Tokens = tokens

	a.Ingest = artifacts.NewIngester(store, cfg.MaxArtifactSizeMB, tokens)
	a.API = artifacts.NewAPI(store, tokens, a.Log.WithField("component", "artifacts_api"))

	a.Session = session.NewManager(cfg, docker, a.Ingest, datasets.PlaceholderFetch, a.Log.WithField("component", "session"))

	// One-shot sweep of containers left behind by a previous crashed
	// process, grounded on container_utils.py's cleanup_sandbox_containers
	// (itself a boot-time utility, not a recurring one): idle eviction for
	// live sessions is handled entirely by sweepIdle on Start/Exec.
	if err := session.CleanupAllContainers(context.Background(), docker); err != nil {
		a.Log.WithError(err).Warn("startup container sweep reported errors")
	}

	a.router = mux.NewRouter()
	a.API.Register(a.router)
	a.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	a.router.HandleFunc("/debug/config", a.handleDebugConfig).Methods(http.MethodGet)

	return a, nil
}

// Serve starts the HTTP server, blocking until ctx is cancelled, then shuts
// it down. Idle-session eviction happens inline on Start/Exec
// (session.Manager.sweepIdle), not on a timer here.
func (a *App) Serve(ctx context.Context, addr string) error {
	a.server = &http.Server{Addr: addr, Handler: a.router}

	errCh := make(chan error, 1)
	go func() {
		a.Log.WithField("addr", addr).Info("sandboxd listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		return err
	}
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return err
	}
	return a.Store.Close()
}

func (a *App) handleDebugConfig(w http.ResponseWriter, r *http.Request) {
	redacted := *a.Config
	redacted.ArtifactsSecret = "REDACTED"
	w.Header().Set("Content-Type", "application/x-yaml")
	writeYAML(w, &redacted)
}
