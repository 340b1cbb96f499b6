package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/clearing-house/internal/infra/auth"
	"go.uber.org/zap"
)

// Server — внешняя HTTP-поверхность клирингового центра. Единственное место,
// где доменные ошибки превращаются в транспортные статусы.
type Server struct {
	router    *chi.Mux
	logger    *zap.Logger
	validator auth.TokenValidator
	handler   *Handler
	jwks      http.Handler
	metrics   http.Handler
}

func NewServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	handler *Handler,
	jwksHandler http.Handler,
	metricsHandler http.Handler,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("clearing-api"),
		validator: validator,
		handler:   handler,
		jwks:      jwksHandler,
		metrics:   metricsHandler,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Набор ключей для офлайн-проверки квитанций
		r.Get("/.well-known/jwks.json", s.jwks.ServeHTTP)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		if s.metrics != nil {
			r.Get("/metrics", s.metrics.ServeHTTP)
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен из DAPS) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		// Управление процессами
		r.Route("/process/{pid}", func(r chi.Router) {
			r.Post("/", s.handler.CreateProcess)
			r.Delete("/", s.handler.DeleteProcess)
			r.Post("/block", s.handler.BlockProcess)     // только admin scope
			r.Post("/unblock", s.handler.UnblockProcess) // только admin scope
		})

		// Логирование и выборка улик
		r.Route("/messages", func(r chi.Router) {
			r.Post("/log/{pid}", s.handler.LogMessage)
			r.Post("/query/{pid}", s.handler.Query)
			r.Post("/query/{pid}/{id}", s.handler.QueryByID)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
