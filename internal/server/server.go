// Package server implements the Pixyard HTTP API and route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/pixyard/pixyard/internal/auth"
	"github.com/pixyard/pixyard/internal/config"
	"github.com/pixyard/pixyard/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// openPaths are served without a bearer token.
var openPaths = []string{"/health", "/metrics", "/docs", "/openapi.json", "/openapi.yaml"}

// Server is the Pixyard HTTP server. It routes /images requests to the
// image service and exposes health, metrics, and API documentation.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	images     *service.ImageService
	verifier   *auth.Verifier
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a Server and wires up all routes on the Chi router.
func New(cfg *config.Config, images *service.ImageService) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Pixyard API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:      cfg,
		router:   router,
		api:      api,
		images:   images,
		verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience),
	}
	s.registerRoutes()
	return s
}

// Verifier exposes the token verifier, mainly so tests and the dev CLI can
// mint tokens that this server accepts.
func (s *Server) Verifier() *auth.Verifier { return s.verifier }

// Handler returns the fully wrapped HTTP handler.
// Middleware chain: metrics -> common headers/CORS -> auth -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = auth.Middleware(s.verifier, openPaths...)(handler)
	handler = commonHeaders(s.cfg.Server.CORSOrigin)(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address. The returned
// http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Huma routes
// (/health, /docs, /openapi.json) and /metrics are registered alongside the
// /images multiplexer.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the Pixyard server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.HandleFunc("/images", s.dispatchImages)
}

// dispatchImages routes /images requests by HTTP method and the action
// query parameter.
func (s *Server) dispatchImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch r.Method {
	case http.MethodGet:
		switch q.Get("action") {
		case "", "list":
			s.handleList(w, r)
		case "delete":
			// Browsers behind simple front doors sometimes cannot issue
			// DELETE; accept the action verb on GET as well.
			s.handleDelete(w, r)
		default:
			writeUnknownAction(w, q.Get("action"))
		}
	case http.MethodDelete:
		switch q.Get("action") {
		case "", "delete":
			s.handleDelete(w, r)
		default:
			writeUnknownAction(w, q.Get("action"))
		}
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodOptions:
		// CORS headers were already set by commonHeaders.
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
