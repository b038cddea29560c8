package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"llmgate/internal/apierror"
	"llmgate/internal/config"
	"llmgate/internal/models"
	"llmgate/internal/router"
)

const (
	maxBodySize         = "1M"
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	// streams may run for the whole backend timeout before the last frame is written
	writeTimeoutSlack = 15 * time.Second
)

// Server is the HTTP entry point of the gateway.
type Server struct {
	cfg     config.Config
	router  *router.Router
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
// A nil store disables rate limiting.
func New(cfg config.Config, rt *router.Router, store middleware.RateLimiterStore) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(cfg.Server.DebugErrors)

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit(maxBodySize))
	if store != nil {
		e.Use(middleware.RateLimiterWithConfig(rateLimiterConfig(store)))
	}

	srv := &Server{
		cfg:     cfg,
		router:  rt,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed echo instance.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port, s.router.Provider().DisplayName())
	slog.Info("starting server", "addr", s.address, "provider", s.router.Provider().Name())

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: s.cfg.Server.RequestTimeout + writeTimeoutSlack,
		IdleTimeout:  idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", s.address, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	})
	return g.Wait()
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.app.GET("/v1/models", s.handleModels)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.router.Provider().Name(),
	})
}

func (s *Server) handleModels(c echo.Context) error {
	list, err := s.router.Models(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	req, err := decodeChatRequest(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if req.Stream {
		return s.streamChat(ctx, c, req)
	}

	resp, err := s.router.Chat(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) streamChat(ctx context.Context, c echo.Context, req *models.ChatRequest) error {
	sink := newSSESink(c.Response())
	err := s.router.ChatStream(ctx, req, sink)
	if err == nil {
		return nil
	}
	if !sink.Started() {
		return err
	}
	// headers are gone; the client sees a truncated stream
	slog.Warn("stream aborted after first event",
		"provider", s.router.Provider().Name(),
		"model", req.Model,
		"error", err.Error(),
	)
	return nil
}

func decodeChatRequest(c echo.Context) (*models.ChatRequest, error) {
	body := c.Request().Body
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, apierror.InvalidRequest(fmt.Sprintf("failed to read request body: %v", err))
	}
	if len(raw) == 0 {
		return nil, apierror.InvalidRequest("request body is required")
	}

	if err := models.ValidateChatRequest(raw); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return nil, apierror.InvalidRequest(verr.Message)
		}
		return nil, apierror.InvalidRequest(err.Error())
	}

	var req models.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, apierror.InvalidRequest(fmt.Sprintf("invalid JSON payload: %v", err))
	}
	return &req, nil
}

func printStartupBanner(port int, provider string) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("llmgate ready")
	fmt.Printf("Listening on http://%s:%d (backend: %s)\n", host, port, provider)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/chat/completions -H 'Content-Type: application/json' -d '{\"model\":\"gpt-4\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
