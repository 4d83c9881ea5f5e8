package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"EscrowCore/internal/observability"
	"EscrowCore/internal/settlement"
)

// Server exposes the settlement orchestrator over HTTP. All endpoints are
// JSON; callers are identified by the caller field in the request body (the
// marketplace layer in front of this service owns authentication).
type Server struct {
	orc    *settlement.Orchestrator
	log    zerolog.Logger
	health *observability.HealthChecker
	router http.Handler
}

func New(orc *settlement.Orchestrator, log zerolog.Logger, health *observability.HealthChecker) *Server {
	s := &Server{
		orc:    orc,
		log:    log,
		health: health,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)

	r.Route("/v1/escrows", func(r chi.Router) {
		r.Post("/", s.handleOpen)
		r.Get("/", s.handleList)
		r.Route("/{escrowID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/log", s.handleLog)
			r.Post("/fund", s.handleFund)
			r.Post("/release", s.handleRelease)
			r.Post("/cancel", s.handleCancel)
		})
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}
