// Package server exposes the HTTP API for uploading photos and retrieving
// their styled variants.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/rivetlabs/rivet/attachment"
	"github.com/rivetlabs/rivet/internal/config"
	"github.com/rivetlabs/rivet/internal/queue"
	"github.com/rivetlabs/rivet/internal/repository"
	"github.com/rivetlabs/rivet/internal/signing"
	"github.com/rivetlabs/rivet/storage"
)

// Server wires the attachment definition, repository and storage backend
// behind HTTP endpoints.
type Server struct {
	cfg     *config.Config
	repo    *repository.PhotoRepository
	def     *attachment.Definition
	backend storage.Backend
	signer  *signing.Signer
	queue   *asynq.Client
	server  *http.Server
	once    sync.Once
}

// New constructs a Server. The queue client may be nil when no worker runs;
// reprocess requests then fail with 503.
func New(cfg *config.Config, repo *repository.PhotoRepository, def *attachment.Definition, backend storage.Backend, queueClient *asynq.Client) *Server {
	return &Server{
		cfg:     cfg,
		repo:    repo,
		def:     def,
		backend: backend,
		signer:  signing.NewSigner(cfg.SigningSecret),
		queue:   queueClient,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/photos", s.handlePhotos)
		mux.HandleFunc("/photos/", s.handlePhotoRoute)
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: corsMiddleware(loggingMiddleware(mux)),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePhotos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePhotoRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/photos/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handlePhoto(w, r, id)
		case http.MethodDelete:
			s.handleDelete(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}
	switch parts[1] {
	case "file":
		if len(parts) == 3 {
			s.handleFile(w, r, id, parts[2])
			return
		}
	case "reprocess":
		s.handleReprocess(w, r, id)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	// Only the header is needed; the attachment reopens it when staging.
	file.Close()
	photo := &repository.Photo{
		ID:    uuid.NewString(),
		Title: r.FormValue("title"),
	}
	att := photo.Attachments.Get(s.def, photo)
	if err := att.Assign(ctx, attachment.FromMultipart(header)); err != nil {
		log.Printf("assign failed: %v", err)
		http.Error(w, "failed to process upload", http.StatusInternalServerError)
		return
	}
	if !att.Valid() {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"errors": errorStrings(att.Errors),
		})
		return
	}
	if err := s.repo.Create(ctx, photo); err != nil {
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}
	// Post-save hook: the record row exists, flush the staged variants.
	if err := att.Save(ctx); err != nil {
		log.Printf("flush attachment failed: %v", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, s.photoResponse(photo))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	photos, err := s.repo.List(r.Context(), 50)
	if err != nil {
		http.Error(w, "failed to list photos", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(photos))
	for _, p := range photos {
		out = append(out, s.photoResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request, id string) {
	photo, err := s.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "photo not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, s.photoResponse(photo))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	photo, err := s.repo.Get(ctx, id)
	if err != nil {
		http.Error(w, "photo not found", http.StatusNotFound)
		return
	}
	// Pre-destroy hook: remove the attached files before the row goes away.
	att := photo.Attachments.Get(s.def, photo)
	if err := att.DestroyAttachedFiles(ctx); err != nil {
		log.Printf("destroy attached files: %v", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		http.Error(w, "failed to delete photo", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFile serves variant bytes from storage after checking the signature.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request, id, style string) {
	ctx := r.Context()
	q := r.URL.Query()
	if !s.signer.Validate(id, style, q.Get("expires"), q.Get("sig"), time.Now()) {
		http.Error(w, "invalid or expired signature", http.StatusForbidden)
		return
	}
	photo, err := s.repo.Get(ctx, id)
	if err != nil {
		http.Error(w, "photo not found", http.StatusNotFound)
		return
	}
	att := photo.Attachments.Get(s.def, photo)
	if !att.Present() {
		http.Error(w, "no file attached", http.StatusNotFound)
		return
	}
	path, err := att.Path(style)
	if err != nil {
		http.Error(w, "unknown style", http.StatusBadRequest)
		return
	}
	data, err := s.backend.Read(ctx, path)
	if err != nil {
		http.Error(w, "variant not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", photo.Image.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.queue == nil {
		http.Error(w, "reprocessing unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	if _, err := s.repo.Get(ctx, id); err != nil {
		http.Error(w, "photo not found", http.StatusNotFound)
		return
	}
	if err := queue.EnqueueReprocess(ctx, s.queue, queue.ReprocessPayload{PhotoID: id}); err != nil {
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
}

// photoResponse renders a photo with its per-style URLs and, when a file is
// attached, signed links for direct serving.
func (s *Server) photoResponse(p *repository.Photo) map[string]any {
	att := p.Attachments.Get(s.def, p)
	urls := make(map[string]string)
	files := make(map[string]string)
	expires := time.Now().Add(s.cfg.SignedURLTTL).Unix()
	for _, style := range s.def.StyleNames() {
		if u, err := att.URL(style); err == nil {
			urls[style] = u
		}
		if att.Present() {
			sig := s.signer.Sign(p.ID, style, expires)
			files[style] = fmt.Sprintf("/photos/%s/file/%s?expires=%d&sig=%s", p.ID, style, expires, sig)
		}
	}
	resp := map[string]any{
		"photo": p,
		"urls":  urls,
	}
	if att.Present() {
		resp["files"] = files
	}
	return resp
}

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
