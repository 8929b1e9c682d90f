package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/replwire"
)

// replClient is the host-side counterpart of cmd/sandbox-repl, grounded on
// session_manager.py's httpx.Client calls to GET /health and POST /exec.
type replClient struct {
	http *http.Client
}

func newReplClient() *replClient {
	return &replClient{http: &http.Client{}}
}

func (c *replClient) Health(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Exec posts code to baseURL/exec, with the request timeout five seconds
// longer than the execution budget so REPL-side timeouts can surface as a
// normal {ok:false} response rather than a client-side cancellation.
func (c *replClient) Exec(ctx context.Context, baseURL, code string, timeoutSeconds int) (replwire.ExecResponse, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = replwire.DefaultTimeoutSeconds
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds+5)*time.Second)
	defer cancel()

	body, err := json.Marshal(replwire.ExecRequest{Code: code, Timeout: timeoutSeconds})
	if err != nil {
		return replwire.ExecResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/exec", bytes.NewReader(body))
	if err != nil {
		return replwire.ExecResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return replwire.ExecResponse{}, apperr.Wrapf(apperr.KindNetworkUnreachable, err, "POST %s/exec", baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return replwire.ExecResponse{}, fmt.Errorf("exec: unexpected status %d", resp.StatusCode)
	}

	var out replwire.ExecResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return replwire.ExecResponse{}, err
	}
	return out, nil
}
