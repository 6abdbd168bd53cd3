package httppeer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/replicate"
)

// maxRequestBody bounds POST payloads.
const maxRequestBody = 32 << 20

// Backend is the store surface served over HTTP. *store.Store satisfies it.
type Backend interface {
	replicate.Peer
	GetDocument(ctx context.Context, docID string) (ir.Revision, error)
	LastSequence(ctx context.Context) (int64, error)
}

// Server serves a Backend's replication endpoints.
type Server struct {
	backend Backend
	logger  *slog.Logger
	router  chi.Router
}

// NewServer builds the router for backend. A nil logger discards output.
func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/_changes", s.handleChanges)
	r.Get("/_revision", s.handleRevision)
	r.Get("/_leaves", s.handleLeaves)
	r.Get("/_doc", s.handleDocument)
	r.Post("/_missing", s.handleMissing)
	r.Post("/_revs", s.handlePutRevisions)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

type changesResponse struct {
	Results []ir.ChangeEntry `json:"results"`
	LastSeq int64            `json:"last_seq"`
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, err := s.backend.ChangesSince(r.Context(), since, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := changesResponse{Results: entries, LastSeq: since}
	if resp.Results == nil {
		resp.Results = []ir.ChangeEntry{}
	}
	if n := len(entries); n > 0 {
		resp.LastSeq = entries[n-1].Seq
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevision(w http.ResponseWriter, r *http.Request) {
	docID, err := queryDocID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	revID, err := ir.ParseRevID(r.URL.Query().Get("rev"))
	if err != nil || revID.IsZero() {
		s.writeError(w, r, ir.NewStructuralError(docID, "", "missing or invalid rev parameter"))
		return
	}

	rev, err := s.backend.GetRevision(r.Context(), docID, revID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rev)
}

func (s *Server) handleLeaves(w http.ResponseWriter, r *http.Request) {
	docID, err := queryDocID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	leaves, err := s.backend.GetLeafRevisions(r.Context(), docID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if leaves == nil {
		leaves = []ir.Revision{}
	}
	s.writeJSON(w, http.StatusOK, leaves)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	docID, err := queryDocID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rev, err := s.backend.GetDocument(r.Context(), docID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rev)
}

type missingResponse struct {
	Missing []ir.RevID `json:"missing"`
}

func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	docID, err := queryDocID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var revIDs []ir.RevID
	if err := decodeBody(w, r, &revIDs); err != nil {
		s.writeError(w, r, ir.NewStructuralError(docID, "", "decode revision ids: "+err.Error()))
		return
	}

	missing, err := s.backend.MissingRevisions(r.Context(), docID, revIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if missing == nil {
		missing = []ir.RevID{}
	}
	s.writeJSON(w, http.StatusOK, missingResponse{Missing: missing})
}

type putResponse struct {
	Applied int `json:"applied"`
}

func (s *Server) handlePutRevisions(w http.ResponseWriter, r *http.Request) {
	docID, err := queryDocID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var revs []ir.Revision
	if err := decodeBody(w, r, &revs); err != nil {
		s.writeError(w, r, ir.NewStructuralError(docID, "", "decode revisions: "+err.Error()))
		return
	}
	for i := range revs {
		// Sequence numbers are local to the sender.
		revs[i].Seq = 0
	}

	applied, err := s.backend.PutRevisions(r.Context(), docID, revs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, putResponse{Applied: applied})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := encodeError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "code", body.Error, "reason", body.Reason)
	}
	s.writeJSON(w, status, body)
}

func queryDocID(r *http.Request) (string, error) {
	docID := r.URL.Query().Get("doc")
	if docID == "" {
		return "", ir.NewStructuralError("", "", "missing doc parameter")
	}
	return docID, nil
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, ir.NewStructuralError("", "", "invalid "+name+" parameter: "+raw)
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	return dec.Decode(v)
}
