package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/jsbox/internal/sandbox"
	"github.com/michaelbrown/jsbox/internal/storage"
)

const (
	errCodeRequired = "code (string) required"
	errTooLarge     = "request body too large"

	// executionIDHeader carries the history ID of a stored run.
	executionIDHeader = "X-Execution-Id"

	recordTimeout = 5 * time.Second
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseCode extracts the code field from a request object. Anything other
// than a JSON object with a string "code" is rejected.
func parseCode(body []byte) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", false
	}
	return stringField(fields["code"])
}

func stringField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// --- Execution ---

func (s *Server) handleRunJS(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, errCodeRequired)
		return
	}

	code, ok := parseCode(body)
	if !ok {
		writeError(w, http.StatusBadRequest, errCodeRequired)
		return
	}

	out, id := s.execute(r.Context(), code, nil)
	if id != "" {
		w.Header().Set(executionIDHeader, id)
	}
	writeJSON(w, http.StatusOK, out)
}

// execute runs code, updates metrics and records history. The returned ID is
// empty when nothing was stored.
func (s *Server) execute(ctx context.Context, code string, onLog func(string)) (*sandbox.Outcome, string) {
	done := s.metrics.begin()
	out := s.sandbox.Run(ctx, sandbox.Request{Code: code, OnLog: onLog})
	done(out)

	if out.Failed {
		s.log.Debug("execution failed",
			zap.String("status", out.Status()),
			zap.String("error", out.Error),
			zap.Duration("duration", out.Duration),
			zap.Int("logs", len(out.Logs)),
		)
	}

	return out, s.record(ctx, code, out)
}

func (s *Server) record(ctx context.Context, code string, out *sandbox.Outcome) string {
	if s.store == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	e := storage.NewExecution(uuid.New().String(), code, out)
	if err := s.store.CreateExecution(ctx, e); err != nil {
		s.log.Error("recording execution", zap.Error(err))
		return ""
	}
	return e.ID
}

// --- History handlers ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	opts := storage.ExecutionListOptions{}
	q := r.URL.Query()

	if status := q.Get("status"); status != "" {
		switch st := storage.ExecutionStatus(status); st {
		case storage.StatusSucceeded, storage.StatusFailed, storage.StatusTimedOut:
			opts.Status = st
		default:
			writeError(w, http.StatusBadRequest, "invalid status: "+status)
			return
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	executions, err := s.store.ListExecutions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if executions == nil {
		executions = []storage.Execution{}
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteExecution(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "execution not found")
	case errors.Is(err, storage.ErrAmbiguous):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
