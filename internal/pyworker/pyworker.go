// Package pyworker owns the single long-lived python3 subprocess that backs
// the in-container REPL's persistent global namespace. The host-facing HTTP
// surface (cmd/sandbox-repl) is plain Go; the actual code execution is
// necessarily delegated to a real Python interpreter, framed as
// newline-delimited JSON over the subprocess's stdin/stdout. Adapted from
// the teacher's pkg/commands/os.go exec-wrapping style (CreateTempFile,
// RunCommandWithOutput), generalized from one-shot command execution to a
// single piped, long-lived subprocess; the persistent-namespace/redirect-
// stdout/timeout semantics are grounded directly on
// original_source/langgraph_sandbox/sandbox/repl_server.py.
package pyworker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/replwire"
)

// driverScript is the Python counterpart of repl_server.py's exec loop,
// run once as a subprocess and driven over stdin/stdout instead of an HTTP
// stack, since the HTTP surface now lives in cmd/sandbox-repl.
const driverScript = `
import sys, json, io, traceback, threading

GLOBAL_NS = {"__name__": "__main__"}

def run_one(req):
    code = req.get("code", "")
    timeout = req.get("timeout") or 120
    buf = io.StringIO()
    result = {}
    done = threading.Event()

    def target():
        old_stdout = sys.stdout
        sys.stdout = buf
        try:
            exec(code, GLOBAL_NS, GLOBAL_NS)
            result["ok"] = True
        except Exception:
            result["ok"] = False
            result["error"] = traceback.format_exc()
        finally:
            sys.stdout = old_stdout
            done.set()

    t = threading.Thread(target=target, daemon=True)
    t.start()
    t.join(timeout)
    if not done.is_set():
        result["ok"] = False
        result["error"] = "Execution timed out."
    result["stdout"] = buf.getvalue()
    return result

for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    try:
        req = json.loads(line)
        resp = run_one(req)
    except Exception:
        resp = {"ok": False, "stdout": "", "error": traceback.format_exc()}
    sys.stdout.write(json.dumps(resp) + "\n")
    sys.stdout.flush()
`

// Worker wraps one persistent python3 subprocess. Safe for concurrent use:
// requests are serialized, matching the single-GLOBAL_NS semantics of the
// Python reference (one interpreter, no concurrent exec).
type Worker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	script string
}

// New starts the python3 subprocess and returns a ready Worker.
func New(pythonBin string) (*Worker, error) {
	if pythonBin == "" {
		pythonBin = "python3"
	}

	dir, err := os.MkdirTemp("", "sandbox-repl-")
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindStageFailed, err, "create driver temp dir")
	}
	scriptPath := filepath.Join(dir, "driver.py")
	if err := os.WriteFile(scriptPath, []byte(driverScript), 0o644); err != nil {
		return nil, apperr.Wrapf(apperr.KindStageFailed, err, "write driver script")
	}

	cmd := exec.Command(pythonBin, "-u", scriptPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindStageFailed, err, "open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindStageFailed, err, "open stdout pipe")
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrapf(apperr.KindStageFailed, err, "start %s", pythonBin)
	}

	return &Worker{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout), script: scriptPath}, nil
}

// Exec sends code to the persistent interpreter and waits for its result.
// The driver script itself enforces timeoutSeconds internally (matching
// asyncio.wait_for in the original); this call additionally bounds the
// round-trip so a wedged subprocess cannot hang the HTTP handler forever.
func (w *Worker) Exec(code string, timeoutSeconds int) (replwire.ExecResponse, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = replwire.DefaultTimeoutSeconds
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	req := replwire.ExecRequest{Code: code, Timeout: timeoutSeconds}
	line, err := json.Marshal(req)
	if err != nil {
		return replwire.ExecResponse{}, apperr.Wrapf(apperr.KindStageFailed, err, "marshal exec request")
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return replwire.ExecResponse{}, apperr.Wrapf(apperr.KindStageFailed, err, "write to python worker")
	}

	type result struct {
		resp replwire.ExecResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		respLine, err := w.stdout.ReadString('\n')
		if err != nil {
			ch <- result{err: apperr.Wrapf(apperr.KindStageFailed, err, "read from python worker")}
			return
		}
		var resp replwire.ExecResponse
		if err := json.Unmarshal([]byte(respLine), &resp); err != nil {
			ch <- result{err: apperr.Wrapf(apperr.KindStageFailed, err, "decode python worker response")}
			return
		}
		ch <- result{resp: resp}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-time.After(time.Duration(timeoutSeconds+5) * time.Second):
		return replwire.ExecResponse{OK: false, Error: "Execution timed out."}, nil
	}
}

// Close terminates the subprocess and cleans up its driver script.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stdin.Close()
	_ = w.cmd.Process.Kill()
	err := w.cmd.Wait()
	os.RemoveAll(filepath.Dir(w.script))
	if err != nil {
		return fmt.Errorf("python worker exit: %w", err)
	}
	return nil
}
