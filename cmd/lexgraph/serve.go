package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lexgraph/lexgraph"
)

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	engine, err := lexgraph.New(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	h := &handler{engine: engine, topK: cfg.TopK}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /lookup/{id}", h.handleLookup)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("POST /ask", h.handleAsk)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /healthz", h.handleHealth)

	srv := &http.Server{
		Addr:         c.String("addr"),
		Handler:      logMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

type handler struct {
	engine lexgraph.Engine
	topK   int
}

// GET /lookup/{id}
func (h *handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.LookupAgreement(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, lexgraph.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agreement not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		slog.Error("lookup error", "id", r.PathValue("id"), "error", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// POST /search {"text": "...", "top_k": 3}
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
		TopK int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = h.topK
	}
	hits, err := h.engine.SemanticSearch(r.Context(), req.Text, topK)
	if err != nil {
		if errors.Is(err, lexgraph.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "top_k must be positive")
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// POST /ask {"question": "..."}
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	rs, err := h.engine.Ask(r.Context(), req.Question)
	if err != nil {
		switch {
		case errors.Is(err, lexgraph.ErrNotFound):
			writeError(w, http.StatusNotFound, "no matching agreement")
		case errors.Is(err, lexgraph.ErrTranslationFailed):
			writeError(w, http.StatusUnprocessableEntity, "could not translate question")
		default:
			writeError(w, http.StatusInternalServerError, "ask failed")
			slog.Error("ask error", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		slog.Error("stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
