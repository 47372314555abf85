package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"club-feedback/internal/backup"
	"club-feedback/internal/config"
	"club-feedback/internal/logging"
	"club-feedback/internal/store"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// Exporter writes a backup snapshot on demand.
type Exporter interface {
	Export(ctx context.Context) (backup.Result, error)
}

// Deps are the collaborators a Server is built from. APILimiter and
// SubmitLimiter default to in-memory limiters sized from the config, and
// Backup may be nil when object storage is not configured. Redis and Bucket,
// when set, are reported by /health.
type Deps struct {
	Store         *store.Submissions
	Backup        Exporter
	Redis         Pinger
	Bucket        Pinger
	Log           logging.Logger
	APILimiter    Limiter
	SubmitLimiter Limiter
	Now           func() time.Time
}

type Server struct {
	cfg        *config.Config
	store      *store.Submissions
	backup     Exporter
	redis      Pinger
	bucket     Pinger
	log        logging.Logger
	auth       *BasicAuthGuard
	apiLimit   Limiter
	submitLim  Limiter
	now        func() time.Time
	owned      []*memoryLimiter
	handler    http.Handler
	httpServer *http.Server
}

func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		backup:    deps.Backup,
		redis:     deps.Redis,
		bucket:    deps.Bucket,
		log:       deps.Log,
		auth:      NewBasicAuthGuard(cfg.Admin.Username, cfg.Admin.Password),
		apiLimit:  deps.APILimiter,
		submitLim: deps.SubmitLimiter,
		now:       deps.Now,
	}
	if s.log == nil {
		s.log = logging.NewNoOpLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.apiLimit == nil {
		ml := newMemoryLimiter(cfg.RateLimit.APIRate, cfg.RateLimit.APIWindow)
		s.owned = append(s.owned, ml)
		s.apiLimit = ml
	}
	if s.submitLim == nil {
		ml := newMemoryLimiter(cfg.RateLimit.SubmitRate, cfg.RateLimit.SubmitWindow)
		s.owned = append(s.owned, ml)
		s.submitLim = ml
	}

	s.handler = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// requestID -> logging/metrics -> recover -> headers -> cors -> gzip -> routes
	// Recovery sits inside logging so a panicking request still gets its
	// access line and metrics.
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log, s.cfg.Server.TrustProxy))
	r.Use(recoverMiddleware(s.log))
	r.Use(securityHeadersMiddleware)
	r.Use(corsMiddleware(s.cfg.CORS.AllowedOrigins))
	r.Use(compressionMiddleware)

	r.Get("/health", s.HandleHealth)
	r.With(s.auth.Protect).Handle("/metrics", metricsHandler())

	r.Get("/", s.HandleIndex)
	r.With(s.auth.Protect).Get("/admin", s.HandleAdminPage)
	r.Handle("/assets/*", s.assetsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimitMiddleware(s.apiLimit, "api", apiLimitMessage, true, s.cfg.Server.TrustProxy, s.log))

		r.With(rateLimitMiddleware(s.submitLim, "submit", submitLimitMessage, false, s.cfg.Server.TrustProxy, s.log)).
			Post("/submit-feedback", s.HandleSubmit)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Protect)
			r.Get("/submissions", s.HandleListSubmissions)
			r.Post("/submissions/backup", s.HandleBackup)
			r.Delete("/submissions/{id}", s.HandleDeleteSubmission)
		})
	})

	return r
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, waits for in-flight requests up to
// ctx's deadline, then stops the limiters the server created itself.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.Close()
	return err
}

// Close releases background resources without touching the listener.
func (s *Server) Close() {
	for _, l := range s.owned {
		l.Stop()
	}
}
