// Package server exposes the bookmark stores as MCP tools over stdio or
// streamable HTTP.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prismon/mcp-bookmarks/pkg/bookmarks"
	"github.com/prismon/mcp-bookmarks/pkg/database"
	"github.com/prismon/mcp-bookmarks/pkg/home"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/prismon/mcp-bookmarks/pkg/plans"
	"github.com/sirupsen/logrus"
)

var log *logrus.Entry

func init() {
	log = logger.WithName("server")
}

// Name is the MCP server name
const Name = "mcp-bookmarks"

// Deps are the services the tools run against
type Deps struct {
	Catalog *bookmarks.Catalog
	Sync    *plans.Engine
	DBs     *database.Registry
	// ExportDir receives exports written without an explicit path
	ExportDir string
}

// NewMCPServer creates an MCP server with every tool registered
func NewMCPServer(deps *Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(Name, version, server.WithToolCapabilities(true))
	t := &tools{deps: deps}
	for _, st := range t.definitions() {
		s.AddTool(st.Tool, st.Handler)
	}
	return s
}

// ServeStdio serves MCP over stdin/stdout until the input closes
func ServeStdio(deps *Deps, version string) error {
	log.Info("Serving MCP over stdio")
	return server.ServeStdio(NewMCPServer(deps, version))
}

// NewRouter builds the HTTP router with the MCP endpoint at /mcp.
// A nil cors config allows any origin.
func NewRouter(deps *Deps, version string, cors *CORSConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), CORSMiddleware(cors))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"version":     version,
			"stores":      len(deps.Catalog.Stores()),
			"connections": len(deps.DBs.List()),
		})
	})

	mcpHTTPServer := server.NewStreamableHTTPServer(
		NewMCPServer(deps, version),
		server.WithStateLess(true),
	)
	router.Any("/mcp", gin.WrapH(mcpHTTPServer))

	return router
}

// Start serves MCP over HTTP until the listener fails
func Start(cfg home.ServerConfig, deps *Deps, version string) error {
	gin.SetMode(gin.ReleaseMode)
	var cors *CORSConfig
	if len(cfg.CORSOrigins) > 0 {
		cors = &CORSConfig{AllowOrigins: cfg.CORSOrigins, AllowCredentials: true}
	}
	router := NewRouter(deps, version, cors)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.WithFields(logrus.Fields{
		"host":         cfg.Host,
		"port":         cfg.Port,
		"mcp_endpoint": "/mcp",
	}).Info("MCP server starting")

	return router.Run(addr)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path

		clientIP := c.ClientIP()
		log.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      path,
			"clientIP":  clientIP,
			"userAgent": c.GetHeader("User-Agent"),
		}).Debug("Incoming request")

		if logger.IsLevelEnabled(logrus.TraceLevel) {
			headerFields := logrus.Fields{"method": c.Request.Method, "path": path}
			for key, values := range c.Request.Header {
				headerFields["header_"+key] = values
			}
			log.WithFields(headerFields).Trace("Request headers")
		}

		c.Next()

		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(startTime).Milliseconds(),
			"clientIP": clientIP,
		}).Info("Request completed")
	}
}
