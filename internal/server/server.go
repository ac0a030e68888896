// Package server serves recorded sessions: it ingests uploaded record
// batches and replays stored contexts over HTTP and MCP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/internal/store"
	"github.com/hazyhaar/domreplay/internal/transmit"
	"github.com/hazyhaar/domreplay/kit"
	"github.com/hazyhaar/domreplay/replay"
)

// errInvalid marks requests rejected before reaching the store.
var errInvalid = errors.New("invalid request")

// Server exposes a record store.
type Server struct {
	store   *store.Store
	logger  *slog.Logger
	maxBody int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMaxBody limits request bodies. Default: 16 MiB.
func WithMaxBody(n int64) Option { return func(s *Server) { s.maxBody = n } }

// New creates a Server over st.
func New(st *store.Store, opts ...Option) *Server {
	s := &Server{store: st, logger: slog.Default(), maxBody: 16 << 20}
	for _, o := range opts {
		o(s)
	}
	return s
}

type sessionRequest struct {
	Session string `json:"session"`
}

type contextRequest struct {
	Session   string `json:"session"`
	RelatedID string `json:"related_id"`
}

// IngestResult acknowledges an uploaded batch.
type IngestResult struct {
	Session  string `json:"session"`
	Accepted int    `json:"accepted"`
}

// RenderResult is a replayed context rendered to markup.
type RenderResult struct {
	RelatedID  string   `json:"related_id"`
	Href       string   `json:"href"`
	HTML       string   `json:"html"`
	Terminated bool     `json:"terminated"`
	Applied    int      `json:"applied"`
	Skipped    []string `json:"skipped,omitempty"`
}

func (s *Server) ingest(ctx context.Context, req any) (any, error) {
	b := req.(*transmit.Batch)
	if b.Session == "" {
		return nil, fmt.Errorf("%w: session is required", errInvalid)
	}
	for i, rec := range b.Records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", errInvalid, i, err)
		}
	}
	if err := s.store.AppendRecords(ctx, b.Session, b.Records); err != nil {
		return nil, err
	}
	return &IngestResult{Session: b.Session, Accepted: len(b.Records)}, nil
}

func (s *Server) sessions(ctx context.Context, _ any) (any, error) {
	list, err := s.store.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []store.SessionInfo{}
	}
	return list, nil
}

func (s *Server) contexts(ctx context.Context, req any) (any, error) {
	r := req.(*sessionRequest)
	if r.Session == "" {
		return nil, fmt.Errorf("%w: session is required", errInvalid)
	}
	list, err := s.store.Contexts(ctx, r.Session)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []store.ContextInfo{}
	}
	return list, nil
}

func (s *Server) payload(ctx context.Context, req any) (any, error) {
	r := req.(*contextRequest)
	if r.Session == "" || r.RelatedID == "" {
		return nil, fmt.Errorf("%w: session and related_id are required", errInvalid)
	}
	recs, err := s.store.Records(ctx, r.Session, r.RelatedID)
	if err != nil {
		return nil, err
	}
	return replay.BuildPayload(recs, r.RelatedID)
}

func (s *Server) render(ctx context.Context, req any) (any, error) {
	p, err := s.payload(ctx, req)
	if err != nil {
		return nil, err
	}
	payload := p.(*replay.Payload)

	surface := replay.NewMemorySurface()
	c, err := payload.Replay(surface, replay.WithLogger(s.logger))
	if c == nil {
		return nil, err
	}
	res := &RenderResult{
		RelatedID:  c.RelatedID(),
		Href:       c.Head().Href,
		Terminated: c.Terminated(),
		Applied:    len(payload.Records),
	}
	for _, e := range unjoin(err) {
		res.Skipped = append(res.Skipped, e.Error())
		res.Applied--
	}
	if res.HTML, err = surface.Render(); err != nil {
		return nil, fmt.Errorf("server: render: %w", err)
	}
	return res, nil
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), middleware.GetReqID(r.Context()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/records", s.handle("ingest", s.ingest, func(r *http.Request) (any, error) {
		var b transmit.Batch
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			return nil, err
		}
		return &b, nil
	}, nil))

	r.Get("/api/sessions", s.handle("sessions", s.sessions, func(*http.Request) (any, error) { return nil, nil }, nil))

	r.Route("/api/sessions/{session}", func(r chi.Router) {
		r.Get("/contexts", s.handle("contexts", s.contexts, func(r *http.Request) (any, error) {
			return &sessionRequest{Session: chi.URLParam(r, "session")}, nil
		}, nil))

		r.Get("/records", s.handle("records", s.records, func(r *http.Request) (any, error) {
			return &contextRequest{Session: chi.URLParam(r, "session"), RelatedID: r.URL.Query().Get("related_id")}, nil
		}, nil))

		r.Route("/contexts/{relatedID}", func(r chi.Router) {
			decode := func(r *http.Request) (any, error) {
				return &contextRequest{Session: chi.URLParam(r, "session"), RelatedID: chi.URLParam(r, "relatedID")}, nil
			}
			r.Get("/payload", s.handle("payload", s.payload, decode, nil))
			r.Get("/render", s.handle("render", s.render, decode, func(w http.ResponseWriter, resp any) {
				res := resp.(*RenderResult)
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(res.HTML))
			}))
		})
	})

	return r
}

func (s *Server) records(ctx context.Context, req any) (any, error) {
	r := req.(*contextRequest)
	recs, err := s.store.Records(ctx, r.Session, r.RelatedID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("server: %w: session %q", replay.ErrUnknownContext, r.Session)
	}
	return recs, nil
}

// handle adapts an endpoint to HTTP. A nil write encodes the response as
// JSON.
func (s *Server) handle(op string, ep kit.Endpoint, decode func(*http.Request) (any, error), write func(http.ResponseWriter, any)) http.HandlerFunc {
	ep = kit.Logging(s.logger, op)(ep)
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		ctx := r.Context()
		if sid := chi.URLParam(r, "session"); sid != "" {
			ctx = kit.WithSessionID(ctx, sid)
		}

		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := ep(ctx, req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		if write != nil {
			write(w, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusOf(err error) int {
	var ce *event.ConversionError
	switch {
	case errors.Is(err, errInvalid):
		return http.StatusBadRequest
	case errors.Is(err, replay.ErrUnknownContext):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
