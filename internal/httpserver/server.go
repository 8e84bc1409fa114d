package httpserver

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/burrowblog/burrowblog/internal/config"
	"github.com/burrowblog/burrowblog/internal/domain"
	"github.com/burrowblog/burrowblog/internal/syndication"
)

//go:embed templates/discover.html
var templateFS embed.FS

// maxRequestDigits caps integers parsed from request parameters. Post ids
// and page indices are attacker-controlled and get truncated to this many
// characters before parsing.
const maxRequestDigits = 7

// Server is the HTTP server for the discovery and syndication endpoints.
type Server struct {
	cfg        *config.Config
	discover   *domain.DiscoverService
	renderer   *syndication.Renderer
	logger     *slog.Logger
	tmpl       *template.Template
	httpServer *http.Server
}

// NewServer creates a new HTTP server around the discover service.
func NewServer(cfg *config.Config, discover *domain.DiscoverService, renderer *syndication.Renderer, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		discover: discover,
		renderer: renderer,
		logger:   logger,
		tmpl: template.Must(template.New("discover.html").
			Funcs(template.FuncMap{"add": func(a, b int) int { return a + b }}).
			ParseFS(templateFS, "templates/discover.html")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /discover", s.handleDiscover)
	mux.HandleFunc("POST /discover", s.handleDiscover)
	mux.HandleFunc("GET /discover/feed", s.handleDiscoverFeed)
	mux.HandleFunc("POST /hit/{id}", s.handleHit)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDiscover serves the interactive discovery page. A POST additionally
// registers an upvote before rendering, matching the page's vote buttons.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if r.Method == http.MethodPost {
		postID := sanitizeInt(r.PostFormValue("pk"), maxRequestDigits)
		accepted, err := s.discover.RecordUpvote(r.Context(), postID, ip)
		if err != nil {
			if errors.Is(err, domain.ErrPostNotFound) {
				http.Error(w, "post not found", http.StatusNotFound)
				return
			}
			s.logger.Error("failed to record upvote", "post_id", postID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !accepted {
			s.logger.Debug("duplicate upvote ignored", "post_id", postID)
		}
	}

	mode := domain.Trending
	if r.URL.Query().Get("newest") != "" {
		mode = domain.Newest
	}
	page := int(sanitizeInt(r.URL.Query().Get("page"), maxRequestDigits))

	view, err := s.discover.GetPage(r.Context(), mode, page, ip)
	if err != nil {
		s.logger.Error("failed to build discover page", "mode", mode.String(), "page", page, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data := struct {
		SiteName   string
		SiteDomain string
		Newest     bool
		Page       *domain.DiscoverPage
	}{
		SiteName:   s.cfg.SiteName,
		SiteDomain: s.cfg.SiteDomain,
		Newest:     mode == domain.Newest,
		Page:       view,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, data); err != nil {
		s.logger.Error("failed to render discover page", "error", err)
	}
}

func (s *Server) handleDiscoverFeed(w http.ResponseWriter, r *http.Request) {
	mode := domain.Trending
	if r.URL.Query().Get("newest") != "" {
		mode = domain.Newest
	}
	format := syndication.FormatFromType(r.URL.Query().Get("type"))

	posts, err := s.discover.FeedPosts(r.Context(), mode)
	if err != nil {
		s.logger.Error("failed to build feed", "mode", mode.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, err := s.renderer.Render(posts, mode, format)
	if err != nil {
		s.logger.Error("failed to render feed", "mode", mode.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Write(body)
}

func (s *Server) handleHit(w http.ResponseWriter, r *http.Request) {
	postID := sanitizeInt(r.PathValue("id"), maxRequestDigits)

	err := s.discover.RecordHit(r.Context(), postID, clientIP(r))
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			writeError(w, http.StatusNotFound, "NotFound", "post not found")
			return
		}
		s.logger.Error("failed to record hit", "post_id", postID, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to record hit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sanitizeInt parses an untrusted request integer, truncating to maxDigits
// characters first. Anything unparsable comes back as 0 so discovery
// degrades to its defaults instead of failing the request.
func sanitizeInt(s string, maxDigits int) int64 {
	s = strings.TrimSpace(s)
	if len(s) > maxDigits {
		s = s[:maxDigits]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// clientIP derives the origin identity for vote dedup. Proxied or shared
// addresses collide; that imprecision is accepted.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
