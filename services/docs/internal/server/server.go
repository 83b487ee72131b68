package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnajarc/sistemaInm-sub001/internal/ratelimit"
	"github.com/mnajarc/sistemaInm-sub001/internal/servicetoken"
	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
	"github.com/mnajarc/sistemaInm-sub001/pkg/sweeper"
	"github.com/mnajarc/sistemaInm-sub001/pkg/workflow"
)

const maxJSONBody = 1 << 20

const (
	DefaultAnalyzerService    = "analyzer"
	DefaultTransactionService = "transactions"
)

type ActorResolver interface {
	Resolve(token string) (domain.Actor, error)
}

type ServiceVerifier interface {
	Verify(token string) (servicetoken.Caller, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string) ratelimit.Decision
}

type Sweeper interface {
	RunOnce(ctx context.Context, today time.Time) (sweeper.Result, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Engine   *workflow.Engine
	Sweeper  Sweeper
	Actors   ActorResolver
	Services ServiceVerifier
	// Limiter is optional.
	Limiter        Limiter
	Ready          func(context.Context) map[string]string
	MaxUploadBytes int64

	// Callers accepted on the internal routes; empty uses the defaults.
	AnalyzerService    string
	TransactionService string
}

// Server exposes HTTP endpoints for the docs service.
type Server struct {
	engine         *workflow.Engine
	sweeper        Sweeper
	actors         ActorResolver
	services       ServiceVerifier
	limiter        Limiter
	ready          func(context.Context) map[string]string
	maxUploadBytes int64
	analyzerSvc    string
	transactionSvc string
	router         chi.Router
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: workflow engine is required")
	}
	if cfg.Actors == nil || cfg.Services == nil {
		return nil, errors.New("server: actor resolver and service verifier are required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = workflow.DefaultMaxUploadBytes
	}
	s := &Server{
		engine:         cfg.Engine,
		sweeper:        cfg.Sweeper,
		actors:         cfg.Actors,
		services:       cfg.Services,
		limiter:        cfg.Limiter,
		ready:          cfg.Ready,
		maxUploadBytes: maxUploadBytes,
		analyzerSvc:    valueOr(cfg.AnalyzerService, DefaultAnalyzerService),
		transactionSvc: valueOr(cfg.TransactionService, DefaultTransactionService),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithSecurityHeaders(s.router))
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(util.RequestLog("docs"))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { notFound(w, "not found") })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { methodNotAllowed(w) })

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/internal", func(r chi.Router) {
		r.With(s.withService(s.analyzerSvc)).Post("/submissions/{id}/analysis", s.handleRecordAnalysis)
		r.With(s.withService(s.transactionSvc)).Put("/transactions/{id}", s.handleSyncTransaction)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.withActor)
		r.Get("/transactions/{id}/submissions", s.handleListSubmissions)
		r.Get("/transactions/{id}/audit", s.handleAudit)
		r.Get("/submissions/{id}", s.handleGetSubmission)
		r.Get("/submissions/{id}/download", s.handleDownload)
		r.Get("/submissions/{id}/notes", s.handleListNotes)

		r.Group(func(r chi.Router) {
			r.Use(s.withRateLimit)
			r.Post("/transactions/{id}/checklist", s.handleMaterialize)
			r.Post("/submissions/{id}/file", s.handleUpload)
			r.Delete("/submissions/{id}/file", s.handleRemove)
			r.Post("/submissions/{id}/approve", s.handleApprove)
			r.Post("/submissions/{id}/reject", s.handleReject)
			r.Post("/submissions/{id}/expire", s.handleExpire)
			r.Post("/submissions/{id}/notes", s.handleAddNote)
			r.Delete("/notes/{id}", s.handleDeleteNote)
			r.Post("/admin/sweep", s.handleSweep)
		})
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks = s.ready(ctx)
	}
	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}

type actorContextKey struct{}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := r.Context().Value(actorContextKey{}).(domain.Actor)
	return actor
}

func (s *Server) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		actor, err := s.actors.Resolve(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("actor_id", actor.ID, "role", actor.Role.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withService admits internal calls signed by the named service only.
func (s *Server) withService(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := servicetoken.BearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			caller, err := s.services.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if caller.Service != service {
				util.LoggerFromContext(r.Context()).Warn("internal caller refused", "caller", caller.Service, "want", service)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("caller", caller.Service))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		decision := s.limiter.Allow(r.Context(), actorFrom(r).ID)
		if !decision.Allowed {
			if decision.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds()+0.999)))
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		next.ServeHTTP(w, r)
	})
}

func valueOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, errorCodeFor(status, msg), msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

// writeWorkflowError maps workflow sentinels onto HTTP statuses. Anything
// else is logged and reported as an internal error.
func writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrUnauthorized):
		writeErrorCode(w, http.StatusForbidden, "DOC_FORBIDDEN", err.Error())
	case errors.Is(err, workflow.ErrInvalidState):
		writeErrorCode(w, http.StatusConflict, "DOC_INVALID_STATE", err.Error())
	case errors.Is(err, workflow.ErrValidation):
		writeErrorCode(w, http.StatusBadRequest, "DOC_VALIDATION_FAILED", err.Error())
	case errors.Is(err, workflow.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "DOC_NOT_FOUND", err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "DOC_FORBIDDEN"
	case message == "file too large":
		return "DOC_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"):
		return "DOC_FILE_REQUIRED"
	case message == "invalid form data":
		return "DOC_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "DOC_INVALID_REQUEST"
	case message == "rate limit exceeded":
		return "RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "DOC_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "DOC_FORBIDDEN"
	case http.StatusNotFound:
		return "DOC_NOT_FOUND"
	case http.StatusConflict:
		return "DOC_INVALID_STATE"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
