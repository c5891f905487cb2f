package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/scribe/internal/message"
	"github.com/MikeSquared-Agency/scribe/internal/octo"
	"github.com/MikeSquared-Agency/scribe/internal/scrape"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Scrapes is the part of scrape.Service the API exposes.
type Scrapes interface {
	Start(ctx context.Context, req scrape.Request) (string, error)
	Cancel(handle string) bool
	Status(handle string) (scrape.Status, bool)
	List() []scrape.Status
	CancelAll() int
	Active() int
}

// Profiles discovers the browser profiles set up for scraping.
type Profiles interface {
	Profiles(ctx context.Context) ([]octo.ParserProfile, error)
}

// Reader lists stored chats and messages.
type Reader interface {
	ListChats(ctx context.Context) ([]store.ChatSummary, error)
	ListMessages(ctx context.Context, chat message.ChatIdentity, limit int) ([]store.StoredMessage, error)
}

type Server struct {
	router   *chi.Mux
	port     int
	scrapes  Scrapes
	store    Reader
	profiles Profiles
	logger   *slog.Logger
	http     *http.Server
}

// NewServer builds the API. profiles may be nil when profile discovery is not
// configured.
func NewServer(port int, apiToken string, scrapes Scrapes, db Reader, profiles Profiles, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		scrapes:  scrapes,
		store:    db,
		profiles: profiles,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/scribe/status", s.status)

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))

		r.Route("/api/v1/scrapes", func(r chi.Router) {
			r.Post("/", s.startScrape)
			r.Get("/", s.listScrapes)
			r.Delete("/", s.cancelAllScrapes)
			r.Get("/{handle}", s.scrapeStatus)
			r.Delete("/{handle}", s.cancelScrape)
		})
		r.Get("/api/v1/chats", s.listChats)
		r.Get("/api/v1/chats/messages", s.listMessages)
		r.Get("/api/v1/profiles", s.listProfiles)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":  "scribe",
		"active": s.scrapes.Active(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
