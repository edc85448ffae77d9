package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/roelfdiedericks/kaitiaki/internal/llm"
	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
	"github.com/roelfdiedericks/kaitiaki/internal/metrics"
)

const maxBodyBytes = 1 << 20

// attemptJSON is one failed candidate as reported to clients.
type attemptJSON struct {
	Model string   `json:"model"`
	Kind  llm.Kind `json:"kind"`
	Type  string   `json:"type"`
	Error string   `json:"error"`
	Hint  string   `json:"hint"`
}

func toAttemptJSON(attempts []llm.Attempt) []attemptJSON {
	out := make([]attemptJSON, 0, len(attempts))
	for _, a := range attempts {
		aj := attemptJSON{Model: a.Model, Kind: a.Kind, Type: "error", Error: a.Err.Error(), Hint: llm.Explain(a.Err)}
		var pe *llm.ProviderError
		var ue *llm.UnavailableError
		switch {
		case errors.As(a.Err, &pe):
			aj.Type = string(pe.Type)
		case errors.As(a.Err, &ue):
			aj.Type = "unavailable"
		}
		out = append(out, aj)
	}
	return out
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type generateResponse struct {
	Text       string        `json:"text"`
	Model      string        `json:"model"`
	Kind       llm.Kind      `json:"kind"`
	FailedOver bool          `json:"failedOver"`
	Attempts   []attemptJSON `json:"attempts"`
}

// handleGenerate handles POST /api/generate
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	L_debug("http: generate", "id", getRequestID(r), "chars", len(req.Prompt), "model", req.Model)

	// the deadline ends fallback before WriteTimeout would drop the reply
	ctx, cancel := context.WithTimeout(r.Context(), s.generateTTL)
	defer cancel()

	res, err := s.orch.GenerateWithFallback(ctx, req.Prompt, req.Model)
	if err != nil {
		s.writeGenerateError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		Text:       res.Text,
		Model:      res.Model,
		Kind:       res.Kind,
		FailedOver: res.FailedOver,
		Attempts:   toAttemptJSON(res.Attempts),
	})
}

func (s *Server) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	var exhausted *llm.ExhaustedError
	var canceled *llm.CanceledError
	switch {
	case errors.Is(err, llm.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &exhausted):
		L_warn("http: generate exhausted", "id", getRequestID(r), "attempts", len(exhausted.Attempts))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":    "all providers exhausted",
			"attempts": toAttemptJSON(exhausted.Attempts),
		})
	case errors.As(err, &canceled):
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, map[string]any{
			"error":    "request canceled",
			"attempts": toAttemptJSON(canceled.Attempts),
		})
	default:
		L_error("http: generate failed", "id", getRequestID(r), "error", err)
		writeError(w, http.StatusInternalServerError, "generation failed")
	}
}

// handleModels handles GET /api/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.orch.ListAvailableModels(r.Context())})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status(r.Context()))
}

// handlePreferred handles POST /api/preferred {model}. An empty model
// clears the preference.
func (s *Server) handlePreferred(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.orch.SetPreferredModel(r.Context(), req.Model) {
		writeError(w, http.StatusBadRequest, "model is not available: "+req.Model)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferredModel": req.Model})
}

// handleProvider handles POST /api/provider {kind}. An empty kind clears
// the manual selection.
func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var kind llm.Kind
	if req.Kind != "" {
		k, err := llm.ParseKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k
	}
	if !s.orch.SwitchProvider(r.Context(), kind) {
		writeError(w, http.StatusBadRequest, "provider is not available: "+string(kind))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currentProvider": kind})
}

// handleReload handles POST /api/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	diags := s.orch.Reload()
	msgs := make([]string, 0, len(diags))
	for _, d := range diags {
		msgs = append(msgs, d.Error())
	}
	L_info("http: registry reloaded", "id", getRequestID(r), "skipped", len(msgs))
	writeJSON(w, http.StatusOK, map[string]any{"diagnostics": msgs})
}

// handleMetrics handles GET /api/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := map[string]*metrics.Snapshot{}
	if s.metrics != nil {
		snap = s.metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		L_warn("http: invalid JSON", "id", getRequestID(r), "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
