package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/shpitdev/contact-reveal/internal/app"
	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

const (
	maxBodyBytes  = 1 << 20
	maxBulkInputs = 1000
)

// Service is the caller interface served over HTTP.
type Service interface {
	ExtractOne(ctx context.Context, identifier string) app.Result
	ExtractMany(ctx context.Context, identifiers []string, onProgress func(completed, total int)) (map[string]app.Result, error)
	Search(ctx context.Context, req app.SearchRequest) (app.SearchResult, error)
	HealthSnapshot() credential.Snapshot
}

type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server exposes the service on a chi router.
type Server struct {
	router chi.Router
	svc    Service
	cfg    Config
	log    logrus.FieldLogger
}

func New(svc Service, cfg Config, log logrus.FieldLogger) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Bulk requests poll provider jobs to completion.
		cfg.WriteTimeout = 30 * time.Minute
	}

	s := &Server{svc: svc, cfg: cfg, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleLiveness)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api", func(r chi.Router) {
		r.Post("/extract", s.handleExtract)
		r.Post("/extract/bulk", s.handleExtractBulk)
		r.Post("/search", s.handleSearch)
		r.Get("/health", s.handleHealth)
	})

	s.router = r
	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}
	s.log.WithField("addr", ln.Addr().String()).Info("http server listening")

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}

type extractRequest struct {
	Identifier string `json:"identifier"`
}

type bulkRequest struct {
	Identifiers []string `json:"identifiers"`
}

type bulkResponse struct {
	Results []app.Result `json:"results"`
	Error   string       `json:"error,omitempty"`
	Code    string       `json:"code,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.svc.HealthSnapshot()
	status := http.StatusOK
	if snap.Healthy == 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res := s.svc.ExtractOne(r.Context(), req.Identifier)
	status := http.StatusOK
	if !res.Success {
		status = statusForCode(res.Code)
	}
	writeJSON(w, status, res)
}

func (s *Server) handleExtractBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Identifiers) == 0 {
		writeError(w, rerr.New(rerr.CodeRequestInvalid, "identifiers must not be empty"))
		return
	}
	if len(req.Identifiers) > maxBulkInputs {
		writeError(w, rerr.Errorf(rerr.CodeRequestInvalid, "at most %d identifiers per request", maxBulkInputs))
		return
	}

	log := s.log.WithField("request_id", middleware.GetReqID(r.Context()))
	results, err := s.svc.ExtractMany(r.Context(), req.Identifiers, func(completed, total int) {
		log.WithFields(logrus.Fields{"completed": completed, "total": total}).Debug("bulk progress")
	})

	// Results follow input order; repeated inputs are reported once.
	resp := bulkResponse{Results: make([]app.Result, 0, len(results))}
	seen := make(map[string]struct{}, len(results))
	for _, id := range req.Identifiers {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if res, ok := results[id]; ok {
			resp.Results = append(resp.Results, res)
		}
	}
	if err != nil {
		resp.Error = rerr.UserMessage(err)
		resp.Code = string(rerr.CodeOf(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req app.SearchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.svc.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return rerr.New(rerr.CodeRequestInvalid, "request body must be a JSON object with known fields")
	}
	return nil
}

func statusForCode(code string) int {
	if code == "" {
		return http.StatusInternalServerError
	}
	return rerr.HTTPStatus(rerr.New(rerr.Code(code), code))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, rerr.HTTPStatus(err), errorBody{
		Error: rerr.UserMessage(err),
		Code:  string(rerr.CodeOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
