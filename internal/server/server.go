// Package server assembles the HTTP surface of the export service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/exportra/internal/config"
	"github.com/mantonx/exportra/internal/modules/exportmodule"
)

// Server wraps the gin engine in an http.Server with graceful shutdown.
type Server struct {
	logger hclog.Logger
	http   *http.Server
}

// SetupRouter configures and returns the main router
func SetupRouter(handler *exportmodule.APIHandler) *gin.Engine {
	r := gin.Default()

	// CORS middleware for the desktop frontend
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	exportmodule.RegisterRoutes(r, handler)

	return r
}

// New builds a server listening on the configured host and port.
func New(logger hclog.Logger, cfg config.ServerConfig, handler *exportmodule.APIHandler) *Server {
	router := SetupRouter(handler)
	return &Server{
		logger: logger.Named("server"),
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests with a timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down http server")
	return s.http.Shutdown(ctx)
}
