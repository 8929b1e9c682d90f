package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/dockerio/dockerfake"
)

func TestExec_TMPFSDiscoversAndIngestsNewArtifact(t *testing.T) {
	mgr, runtime, _ := testManager(t, nil)

	sid, err := mgr.Start(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	runtime.CmdHandler = func(cmd []string) (string, int) {
		if len(cmd) == 3 && cmd[0] == "bash" && strings.Contains(cmd[2], "find /session/artifacts") {
			calls++
			if calls == 1 {
				return "", 0
			}
			return "plot.png\n", 0
		}
		return "", 0
	}
	runtime.Files["/session/artifacts/plot.png"] = &dockerfake.FakeFile{Data: []byte("PNGDATA"), Mode: 0o644}

	result, err := mgr.Exec(context.Background(), sid, "print('hi')", 5)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !result.OK {
		t.Fatal("expected ok result")
	}
	if result.SessionDir != "" {
		t.Fatal("expected empty session dir for TMPFS")
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("expected 1 ingested artifact, got %d: %+v", len(result.Artifacts), result.Artifacts)
	}
	if result.Artifacts[0].SHA256 == "" {
		t.Fatal("expected artifact to have a sha256")
	}
}

func TestExec_BindDiscoversAndIngestsNewArtifact(t *testing.T) {
	mgr, _, hook := testManager(t, func(c *config.Config) { c.SessionStorage = config.BIND })

	sid, err := mgr.Start(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	sessionDir, err := mgr.GetSessionDir(sid)
	if err != nil {
		t.Fatal(err)
	}

	hook.set(func() {
		dir := filepath.Join(sessionDir, "artifacts")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "out.csv"), []byte("a,b\n1,2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	})

	result, err := mgr.Exec(context.Background(), sid, "1+1", 5)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.SessionDir != sessionDir {
		t.Fatalf("expected session dir %s, got %s", sessionDir, result.SessionDir)
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("expected 1 ingested artifact, got %d", len(result.Artifacts))
	}

	logPath := filepath.Join(sessionDir, sessionLogFilename)
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("expected session log written: %v", err)
	}
	if !strings.Contains(string(data), "code_execution") {
		t.Fatal("expected code_execution log entry")
	}
	if !strings.Contains(string(data), "artifacts_created") {
		t.Fatal("expected artifacts_created log entry")
	}
}

func TestExec_UnknownSessionErrors(t *testing.T) {
	mgr, _, _ := testManager(t, nil)
	if _, err := mgr.Exec(context.Background(), "nope", "1+1", 5); err == nil {
		t.Fatal("expected error for unknown session")
	}
}
