package panel

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rendis/relaysim/internal/diagram"
	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/expressions"
	"github.com/rendis/relaysim/pkg/schema"
)

// runRequestSchema constrains the POST /api/run body.
var runRequestSchema = []byte(`{
  "type": "object",
  "properties": {
    "mode": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`)

// handleSnapshot returns the current run snapshot.
func (s *PanelServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Snapshot())
}

// handleRun starts a run. An empty body uses the default mode.
func (s *PanelServer) handleRun(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			writeRelayError(w, schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON: %s", err.Error()))
			return
		}
	}
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateInput(body, runRequestSchema); err != nil {
			writeRelayError(w, err)
			return
		}
	}

	mode := s.deps.DefaultMode
	if v, ok := body["mode"].(string); ok {
		parsed, err := schema.ParseMode(v)
		if err != nil {
			writeRelayError(w, err)
			return
		}
		mode = parsed
	}

	snap, err := s.deps.Runner.Start(r.Context(), mode)
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStop cancels the current run.
func (s *PanelServer) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Stop(r.Context()))
}

// handleReset returns the run to its initial state.
func (s *PanelServer) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Reset(r.Context()))
}

// handleDiagram renders the pipeline. ?format= mermaid (default), ascii or png.
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	model := diagram.Build(diagramInput(s.deps.Title, s.deps.Runner.Snapshot()))

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		writeText(w, diagram.RenderMermaid(model))
	case "ascii":
		writeText(w, diagram.RenderASCII(model))
	case "png", "image":
		png, err := diagram.RenderImage(r.Context(), model)
		if err != nil {
			s.deps.Logger.Error("render diagram", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	default:
		writeRelayError(w, schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", format))
	}
}

// handleQuery evaluates ?q= against the snapshot with ?engine= (default jq).
func (s *PanelServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Expressions == nil {
		writeError(w, http.StatusNotImplemented, "queries are not enabled")
		return
	}
	name := r.URL.Query().Get("engine")
	if name == "" {
		name = "jq"
	}
	eng, err := s.deps.Expressions.Get(name)
	if err != nil {
		writeRelayError(w, err)
		return
	}
	data, err := expressions.Scope(s.deps.Runner.Snapshot())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out, err := eng.Evaluate(r.Context(), r.URL.Query().Get("q"), data)
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"engine": name, "result": out})
}

// handleAutoplay reports the next scheduled demo run.
func (s *PanelServer) handleAutoplay(w http.ResponseWriter, r *http.Request) {
	if s.deps.Autoplay == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  true,
		"next_run": s.deps.Autoplay.NextRun(),
	})
}

func diagramInput(title string, snap engine.Snapshot) diagram.Input {
	return diagram.Input{Title: title, Mode: snap.Mode, Stages: snap.Stages, Items: snap.Items}
}
