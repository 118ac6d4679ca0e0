package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/checkpoint"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/orchestrator"
)

// StatusReporter is the slice of the orchestrator the server reads.
type StatusReporter interface {
	Status() orchestrator.Status
}

// StartServer serves the status surface until the listener fails.
func StartServer(port string, orch StatusReporter, store checkpoint.Store, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/status", StatusHandler(orch))
	mux.HandleFunc("/checkpoints", CheckpointsHandler(store, logger))
	mux.HandleFunc("/checkpoints/", CheckpointByIDHandler(store, logger))

	logger.Infof("Starting pipeline server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("Pipeline server is running"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusHandler reports the active run.
func StatusHandler(orch StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, orch.Status())
	}
}

// CheckpointsHandler lists stored checkpoints, optionally filtered by
// the pipeline query parameter.
func CheckpointsHandler(store checkpoint.Store, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		metas, err := store.List(r.Context(), r.URL.Query().Get("pipeline"))
		if err != nil {
			logger.Errorf("Failed to list checkpoints: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to list checkpoints: "+err.Error())
			return
		}
		if metas == nil {
			metas = []checkpoint.Metadata{}
		}
		writeJSON(w, http.StatusOK, metas)
	}
}

// CheckpointByIDHandler serves one checkpoint: GET loads the body,
// DELETE removes it.
func CheckpointByIDHandler(store checkpoint.Store, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/checkpoints/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "Missing checkpoint id")
			return
		}
		switch r.Method {
		case http.MethodGet:
			cp, err := store.Load(r.Context(), id)
			if err != nil {
				if errors.Is(err, checkpoint.ErrNotFound) {
					writeError(w, http.StatusNotFound, "Checkpoint not found: "+id)
					return
				}
				logger.Errorf("Failed to load checkpoint %s: %v", id, err)
				writeError(w, http.StatusInternalServerError, "Failed to load checkpoint: "+err.Error())
				return
			}
			writeJSON(w, http.StatusOK, cp)
		case http.MethodDelete:
			if err := store.Delete(r.Context(), id); err != nil {
				logger.Errorf("Failed to delete checkpoint %s: %v", id, err)
				writeError(w, http.StatusInternalServerError, "Failed to delete checkpoint: "+err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}
