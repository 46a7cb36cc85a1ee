// Package api exposes the HTTP read interface for stored articles.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dailyfin/crawler/internal/metrics"
	"github.com/dailyfin/crawler/internal/news"
)

// ArticleLister reads persisted article rows, optionally scoped to one date.
type ArticleLister interface {
	ListByDate(ctx context.Context, date *time.Time) ([]news.ArticleRecord, error)
}

// Server wires the HTTP handlers to the article store.
type Server struct {
	router   chi.Router
	articles ArticleLister
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(articles ArticleLister, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		articles: articles,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/api/news", s.listNews)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listNews returns stored articles, filtered to one input date when the
// date query parameter is present.
func (s *Server) listNews(w http.ResponseWriter, r *http.Request) {
	var date *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
		date = &parsed
	}

	records, err := s.articles.ListByDate(r.Context(), date)
	if err != nil {
		s.logger.Error("list articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	if records == nil {
		records = []news.ArticleRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
