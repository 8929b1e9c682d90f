// Command sandbox-repl runs inside the sandbox container image and serves
// the persistent-namespace code execution endpoint the session manager
// talks to. Grounded on
// original_source/langgraph_sandbox/sandbox/repl_server.py, rehosted on
// gorilla/mux (teacher) and logrus (teacher) rather than FastAPI/uvicorn.
package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sandboxd/sandboxd/internal/log"
	"github.com/sandboxd/sandboxd/internal/pyworker"
	"github.com/sandboxd/sandboxd/internal/replwire"
)

func main() {
	logger := log.New(os.Getenv("DEBUG") == "1", log.BuildInfo{ModeID: "sandbox-repl"})

	worker, err := pyworker.New(os.Getenv("PYTHON_BIN"))
	if err != nil {
		logger.WithError(err).Fatal("start python worker")
	}
	defer worker.Close()

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/exec", execHandler(worker, logger)).Methods(http.MethodPost)

	addr := ":9000"
	logger.WithField("addr", addr).Info("sandbox-repl listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.WithError(err).Fatal("serve")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(replwire.HealthResponse{OK: true})
}

func execHandler(worker *pyworker.Worker, logger *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req replwire.ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		resp, err := worker.Exec(req.Code, req.Timeout)
		if err != nil {
			logger.WithError(err).Error("python worker exec failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
