// Package httpapi exposes the orchestrator over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/KafClaw/siteagent/internal/audit"
	"github.com/KafClaw/siteagent/internal/cache"
	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/jobs"
	"github.com/KafClaw/siteagent/internal/metrics"
	"github.com/KafClaw/siteagent/internal/orchestrator"
	"github.com/KafClaw/siteagent/internal/proposal"
	"github.com/KafClaw/siteagent/internal/tools"
)

// Identity headers set by the site integration that forwards chat traffic.
const (
	HeaderUserID   = "X-Site-User-ID"
	HeaderUserRole = "X-Site-User-Role"
)

// Deps are the services the API serves.
type Deps struct {
	Runtime      *config.Runtime
	Orchestrator *orchestrator.Orchestrator
	Jobs         *jobs.Manager
	Proposals    *proposal.Store
	Audit        *audit.Logger
	Cache        *cache.Cache
	Tools        *tools.Registry
	Metrics      *metrics.Metrics
	Version      string
}

// Server is the HTTP gateway.
type Server struct {
	d Deps
}

// New creates a Server.
func New(d Deps) *Server { return &Server{d: d} }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	cfg := s.d.Runtime.Current().Gateway
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserRole},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.health)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		if s.d.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.d.Metrics.Handler())
		}
		r.Route("/v1", func(r chi.Router) {
			r.Post("/chat", s.chat)
			r.Post("/chat/async", s.chatAsync)

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listJobs)
				r.Get("/stats", s.jobStats)
				r.Get("/{jobID}", s.getJob)
				r.Delete("/{jobID}", s.cancelJob)
			})

			r.Get("/proposals", s.listProposals)
			r.Get("/proposals/{proposalID}", s.getProposal)
			r.Post("/proposals/{proposalID}/{action}", s.proposalAction)

			r.Post("/agents/{agentID}/tasks/{taskID}/run", s.runTask)
			r.Get("/system/check", s.systemCheck)
			r.Delete("/cache", s.clearCache)
			r.Get("/audit", s.recentAudit)
			r.Get("/audit/stats", s.auditStats)
			r.Get("/tools", s.listTools)
		})
	})
	return r
}

// bearerAuth enforces Gateway.AuthToken when one is configured. The token
// is read per request so config reloads apply.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.d.Runtime.Current().Gateway.AuthToken
		if want != "" {
			got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.d.Runtime.Current().Gateway
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP gateway listening", "addr", addr, "auth", cfg.AuthToken != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http gateway: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}
