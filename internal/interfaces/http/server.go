// Package http provides the HTTP adapter over the application layer.
// Handlers translate requests into service calls and never hold
// pipeline logic of their own.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/application/service"
	"github.com/minhlq/invoicesync/internal/infrastructure/exporter"
	"github.com/minhlq/invoicesync/internal/infrastructure/notifier"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer creates the HTTP server and wires all routes.
func NewServer(
	config ServerConfig,
	syncService service.SyncService,
	riskService service.RiskService,
	gateway port.PortalGateway,
	hub *notifier.Hub,
	excel *exporter.ExcelExporter,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config: config,
		router: router,
		logger: logger,
	}

	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	handlers := NewHandlers(syncService, riskService, gateway, hub, excel, logger)
	s.setupRoutes(handlers)
	return s
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

func (s *Server) setupRoutes(h *Handlers) {
	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")
	{
		sync := api.Group("/sync")
		{
			sync.POST("/purchase", h.SyncPurchaseInvoices)
			sync.POST("/sold", h.SyncSoldInvoices)
			sync.POST("/recheck", h.RecheckInvoiceStatuses)
		}

		invoices := api.Group("/invoices")
		{
			invoices.GET("/:buyer", h.ListInvoices)
			invoices.GET("/:buyer/detail/:id", h.GetInvoice)
			invoices.GET("/:buyer/export", h.ExportInvoices)
		}
		api.GET("/sold-invoices/:seller", h.ListSoldInvoices)

		portal := api.Group("/portal")
		{
			portal.GET("/captcha", h.GetCaptcha)
			portal.POST("/login", h.Login)
		}

		risk := api.Group("/risk-companies")
		{
			risk.GET("", h.ListRiskCompanies)
			risk.POST("", h.AddRiskCompanies)
			risk.DELETE("/:id", h.DeleteRiskCompany)
		}

		api.GET("/progress/:user", h.StreamProgress)
	}
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
