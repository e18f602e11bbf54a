// Package httpapi is the orchestrator's HTTP ingress: message submission,
// embedding, and health, behind the inter-service bearer check.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/aide/internal/agent"
	"github.com/nextlevelbuilder/aide/internal/llm"
)

type messageHandler interface {
	Handle(ctx context.Context, msg agent.IncomingMessage) (*agent.Response, error)
}

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Server serves the orchestrator ingress.
type Server struct {
	agent    messageHandler
	embedder embedder
	token    string

	warnOnce sync.Map // path -> struct{}, dev-mode warning dedup
}

func NewServer(a messageHandler, e embedder, token string) *Server {
	return &Server{agent: a, embedder: e, token: token}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", s.authMiddleware(s.handleMessage))
	mux.HandleFunc("POST /embed", s.authMiddleware(s.handleEmbed))
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe runs until ctx is done, then drains with a short
// shutdown deadline.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("httpapi.listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}

// authMiddleware enforces the shared-secret bearer token. An empty secret
// disables the check for development and warns once per path.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			if _, warned := s.warnOnce.LoadOrStore(r.URL.Path, struct{}{}); !warned {
				slog.Warn("auth.disabled", "path", r.URL.Path)
			}
			next(w, r)
			return
		}
		if extractBearerToken(r) != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg agent.IncomingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	resp, err := s.agent.Handle(r.Context(), msg)
	if err != nil {
		slog.Error("httpapi.message_failed", "platform", msg.Platform, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	embedding, err := s.embedder.Embed(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, llm.ErrNoEmbedder) {
			writeJSON(w, http.StatusOK, map[string]any{"embedding": nil})
			return
		}
		slog.Error("httpapi.embed_failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "embedding unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"embedding": embedding})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return auth[len(prefix):]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("httpapi.write_failed", "error", err)
	}
}
