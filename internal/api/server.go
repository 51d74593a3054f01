// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/bundle"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/catalog"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/events"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/history"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/metrics"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/quota"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
)

// maxBundleRequest caps the size of a bundle request body.
const maxBundleRequest = 1 << 20

// contentTypes covers catalog extensions missing from Go's built-in table.
var contentTypes = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// BundleRequest is the body of POST /api/v1/bundle.
type BundleRequest struct {
	Paths []string `json:"paths"`
}

// Options configures a Server.
type Options struct {
	// Manifests holds the published manifest under ManifestKey.
	Manifests   storage.Backend
	ManifestKey string
	// Content holds the files the manifest lists, keyed by catalog path.
	Content storage.Backend

	Concurrency    int
	RequestsPerMin int

	Broadcaster *events.Broadcaster
	History     *history.Store // optional
}

// Server is the HTTP server.
type Server struct {
	manifests   storage.Backend
	manifestKey string
	content     storage.Backend

	mu       sync.RWMutex
	manifest  *manifest.Manifest
	raw       []byte
	hash      string
	published time.Time

	assembler   *bundle.Assembler
	guard       *quota.Guard
	rateLimiter *quota.RateLimiter

	broadcaster *events.Broadcaster
	history     *history.Store
}

// NewServer creates a new server.
func NewServer(opts Options) *Server {
	key := opts.ManifestKey
	if key == "" {
		key = manifest.FileName
	}
	content := opts.Content
	if content == nil {
		content = opts.Manifests
	}
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = events.NewBroadcaster()
	}
	return &Server{
		manifests:   opts.Manifests,
		manifestKey: key,
		content:     content,
		manifest:    manifest.Empty(),
		assembler: &bundle.Assembler{
			Fetcher:     bundle.BackendFetcher{Backend: content},
			Concurrency: opts.Concurrency,
			Logger:      logging.Named("bundle"),
		},
		guard:       quota.NewGuard(),
		rateLimiter: quota.NewRateLimiter(opts.RequestsPerMin),
		broadcaster: broadcaster,
		history:     opts.History,
	}
}

// Init loads the published manifest. A missing manifest is served as an
// empty catalog until the next successful reload.
func (s *Server) Init(ctx context.Context) error {
	logging.Info("loading manifest", zap.String("backend", s.manifests.Type()), zap.String("key", s.manifestKey))
	if _, err := s.Reload(ctx); err != nil {
		if !storage.IsNotFound(err) {
			return fmt.Errorf("init: %w", err)
		}
		logging.Warn("no published manifest yet, serving an empty catalog", zap.String("key", s.manifestKey))
	}
	return nil
}

// Reload re-reads the published manifest and reports whether it changed.
// A change is announced to SSE subscribers with the entry-level counts.
func (s *Server) Reload(ctx context.Context) (bool, error) {
	m, raw, err := catalog.Load(ctx, s.manifests, s.manifestKey)
	if err != nil {
		return false, err
	}
	hash := catalog.Hash(raw)
	published := catalog.PublishedAt(ctx, s.manifests, s.manifestKey)

	s.mu.Lock()
	if hash == s.hash {
		s.mu.Unlock()
		return false, nil
	}
	prev, first := s.manifest, s.hash == ""
	s.manifest, s.raw, s.hash, s.published = m, raw, hash, published
	s.mu.Unlock()

	files := m.FileCount()
	metrics.SetCatalogSize(len(m.Categories), files)
	logging.Info("manifest loaded",
		zap.String("hash", hash),
		zap.Int("categories", len(m.Categories)),
		zap.Int("files", files))

	if !first {
		changes := catalog.Compare(prev, m)
		s.broadcaster.Publish(events.Event{
			Type:        events.EventManifest,
			Hash:        hash,
			GeneratedAt: m.GeneratedAt,
			Categories:  len(m.Categories),
			Files:       files,
			Added:       len(changes.Added),
			Removed:     len(changes.Removed),
			Changed:     len(changes.Changed),
		})
	}
	return true, nil
}

// RunReloader reloads the manifest every interval until ctx is done.
func (s *Server) RunReloader(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reload(ctx); err != nil && !storage.IsNotFound(err) {
				logging.Warn("manifest reload failed", zap.Error(err))
			}
			s.rateLimiter.Cleanup(10 * time.Minute)
		}
	}
}

func (s *Server) current() (*manifest.Manifest, []byte, string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest, s.raw, s.hash, s.published
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /manifest.json", s.handleManifest)

	// API
	mux.HandleFunc("POST /api/v1/bundle", s.handleBundle)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/builds", s.handleBuilds)

	// Catalog files, by manifest path
	mux.HandleFunc("GET /{path...}", s.handleContent)

	// Metrics reads the matched pattern, so it sits inside logging's
	// context-carrying request copy.
	return logging.Middleware(metrics.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ─── Manifest ───────────────────────────────────────────────────────────────

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, raw, hash, published := s.current()
	if raw == nil {
		data, err := catalog.Encode(m)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "encode manifest", err.Error())
			return
		}
		raw, hash = data, catalog.Hash(data)
	}

	etag := `"` + hash + `"`
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", etag)
	if !published.IsZero() {
		w.Header().Set("Last-Modified", published.UTC().Format(http.TimeFormat))
	}
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.Write(raw)
}

// ─── Content ────────────────────────────────────────────────────────────────

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	pathParam := r.PathValue("path")
	if pathParam == "" {
		s.sendError(w, http.StatusNotFound, "file not found", "")
		return
	}

	fullPath := "/" + pathParam
	m, _, _, _ := s.current()
	entry, ok := m.Lookup(fullPath)
	if !ok {
		s.sendError(w, http.StatusNotFound, "file not found", fullPath)
		return
	}

	reader, size, err := s.content.GetObject(r.Context(), storage.KeyFor(entry.Path))
	if err != nil {
		metrics.RecordContentDownload(0, false)
		if storage.IsNotFound(err) {
			s.sendError(w, http.StatusNotFound, "file not found", fullPath)
			return
		}
		s.sendError(w, http.StatusInternalServerError, "read file", err.Error())
		return
	}
	defer reader.Close()

	ext := strings.ToLower(path.Ext(fullPath))
	ct, ok := contentTypes[ext]
	if !ok {
		ct = mime.TypeByExtension(ext)
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if entry.LastModified != nil {
		w.Header().Set("Last-Modified", entry.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, reader)
	if err != nil {
		logging.Warn("content transfer error", zap.String("path", fullPath), zap.Error(err))
	}
	metrics.RecordContentDownload(n, err == nil)
}

// ─── Bundle ─────────────────────────────────────────────────────────────────

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	var req BundleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBundleRequest)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	session := quota.SessionID(r)
	if ok, wait := s.rateLimiter.Allow(session); !ok {
		metrics.RecordRateLimitHit()
		w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
		s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
		return
	}

	release, ok := s.guard.Acquire(session)
	if !ok {
		metrics.RecordBusyRejection()
		s.sendError(w, http.StatusConflict, "bundle already in progress", "")
		return
	}
	defer release()

	m, _, _, _ := s.current()
	res, err := s.assembler.Assemble(r.Context(), m.Entries(), manifest.NewSelection(req.Paths...))
	if err != nil {
		var empty *bundle.EmptyError
		switch {
		case errors.As(err, &empty):
			s.sendError(w, http.StatusUnprocessableEntity, bundle.ErrBundleEmpty.Error(), empty.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			logging.WithContext(r.Context()).Info("bundle request abandoned", zap.Error(err))
		default:
			s.sendError(w, http.StatusInternalServerError, "bundle failed", err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, res.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Bundle-Requested", strconv.Itoa(res.Requested))
	w.Header().Set("X-Bundle-Fetched", strconv.Itoa(res.Fetched))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broadcaster.Subscribe()
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := event.WriteTo(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ─── Build history ──────────────────────────────────────────────────────────

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusNotFound, "build history not configured", "")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.sendError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	builds, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "query build history", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"builds": builds})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
