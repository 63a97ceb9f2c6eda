// Package panel is the HTTP host display surface: a single status page, a
// JSON control API and a Server-Sent Events stream of run events.
package panel

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/expressions"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/internal/validation"
	"github.com/rendis/relaysim/pkg/schema"
)

// Runner is the control surface the panel drives. *engine.Controller
// satisfies it.
type Runner interface {
	Start(ctx context.Context, mode schema.Mode) (engine.Snapshot, error)
	Stop(ctx context.Context) engine.Snapshot
	Reset(ctx context.Context) engine.Snapshot
	Snapshot() engine.Snapshot
}

// NextRunner reports the next scheduled autoplay start.
type NextRunner interface {
	NextRun() time.Time
}

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Runner      Runner
	Hub         streaming.EventHub
	Validator   validation.Validator
	Expressions *expressions.Registry
	Autoplay    NextRunner // optional
	DefaultMode schema.Mode
	Title       string
	Logger      *slog.Logger
}

// PanelServer serves the status page, the control API and the event stream.
type PanelServer struct {
	deps PanelDeps
	page *template.Template
}

// NewPanelServer creates a new PanelServer with the page template parsed.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.DefaultMode == "" {
		deps.DefaultMode = schema.ModeStreaming
	}
	if deps.Title == "" {
		deps.Title = "relaysim"
	}

	funcMap := template.FuncMap{
		"statusBadge": statusBadge,
		"duration":    durationLabel,
		"truncate":    truncate,
	}
	page := template.Must(template.New("index").Funcs(funcMap).Parse(indexHTML))

	return &PanelServer{deps: deps, page: page}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)

	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/diagram", s.handleDiagram)
	mux.HandleFunc("GET /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/autoplay", s.handleAutoplay)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/reset", s.handleReset)

	mux.HandleFunc("GET /sse/events", s.handleSSE)

	return s.logRequests(mux)
}

// logRequests logs every request at debug level.
func (s *PanelServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.deps.Logger.Debug("panel request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)))
	})
}

// renderPage executes the index template.
func (s *PanelServer) renderPage(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.ExecuteTemplate(w, "index", data); err != nil {
		s.deps.Logger.Error("template render error", "error", err)
		http.Error(w, fmt.Sprintf("render: %v", err), http.StatusInternalServerError)
	}
}
