// Package server exposes the library facade over HTTP. One JSON API
// under /api serves the desktop shell and any local tooling; the
// server binds loopback only and probes a small port range so several
// instances can coexist on one machine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/profile"
	"github.com/zoterag/zoterag/internal/service"
)

// shutdownTimeout bounds how long Serve waits for in-flight requests
// after the context is cancelled.
const shutdownTimeout = 5 * time.Second

// Options configures New.
type Options struct {
	// Service is the library facade every /api route is served from.
	Service *service.Service

	// Profiles manages the profile directory tree behind the
	// /api/profiles and /api/settings routes.
	Profiles *profile.Manager

	// Logger receives request failures and lifecycle events. Defaults
	// to slog.Default().
	Logger *slog.Logger

	// Debug switches gin into debug mode with per-route logging.
	Debug bool
}

// Server is the HTTP transport over the library facade.
type Server struct {
	svc      *service.Service
	profiles *profile.Manager
	log      *slog.Logger
	router   *gin.Engine
}

// New builds the server and its route table.
func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, ragerr.ConfigError("server requires a service", nil)
	}
	if opts.Profiles == nil {
		return nil, ragerr.ConfigError("server requires a profile manager", nil)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		svc:      opts.Service,
		profiles: opts.Profiles,
		log:      log,
	}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/stats", s.stats)
		api.GET("/db/health", s.dbHealth)

		api.POST("/index/start", s.indexStart)
		api.POST("/index/cancel", s.indexCancel)
		api.GET("/index/status", s.indexStatus)

		api.POST("/chat", s.chat)

		api.GET("/providers", s.listProviders)
		api.GET("/providers/:id/models", s.listModels)
		api.POST("/providers/:id/validate", s.validateProvider)

		api.GET("/metadata/version", s.metadataVersion)
		api.POST("/metadata/migrate", s.migrateMetadata)
		api.POST("/filters/count", s.countFiltered)

		api.GET("/library/tags", s.libraryTags)
		api.GET("/library/collections", s.libraryCollections)
		api.GET("/library/item-types", s.libraryItemTypes)

		api.GET("/profiles", s.listProfiles)
		api.POST("/profiles", s.createProfile)
		api.GET("/profiles/:id", s.getProfile)
		api.PUT("/profiles/:id", s.updateProfile)
		api.DELETE("/profiles/:id", s.deleteProfile)
		api.POST("/profiles/:id/activate", s.activateProfile)

		api.GET("/settings", s.getSettings)
		api.POST("/settings", s.updateSettings)
	}
	return r
}

// Handler returns the route table for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the first free port in [portMin, portMax] on host. The
// desktop shell reads the bound address from the server's startup log
// line, so a busy preferred port degrades to the next one instead of
// failing.
func Listen(host string, portMin, portMax int) (net.Listener, error) {
	if portMax < portMin {
		return nil, ragerr.ConfigError(
			fmt.Sprintf("invalid port range %d-%d", portMin, portMax), nil)
	}
	for port := portMin; port <= portMax; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
	}
	return nil, ragerr.InternalError(
		fmt.Sprintf("no free port in %d-%d on %s", portMin, portMax, host), nil).
		WithSuggestion("Stop the other instances or widen the server port range in the config file.")
}

// Serve runs the API on ln until ctx is cancelled, then drains
// in-flight requests. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.log.Info("api server listening", slog.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// statusFor maps the error taxonomy onto HTTP statuses. Validation
// problems are the caller's fault, references to missing configuration
// targets are 404s, provider trouble is a bad gateway, and data
// conflicts such as an already running indexing job are 409s.
func statusFor(err error) int {
	switch ragerr.GetCategory(err) {
	case ragerr.CategoryValidation:
		return http.StatusBadRequest
	case ragerr.CategoryConfig:
		switch ragerr.GetCode(err) {
		case ragerr.ErrCodeConfigNotFound, ragerr.ErrCodeProfileNotFound,
			ragerr.ErrCodeProviderUnknown, ragerr.ErrCodeModelUnknown:
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case ragerr.CategoryNetwork:
		return http.StatusBadGateway
	case ragerr.CategoryData:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail renders err as the JSON error envelope. Coded errors carry
// their code and suggestion through to the client.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var re *ragerr.RagError
	if errors.As(err, &re) {
		body["error"] = re.Message
		body["code"] = re.Code
		if re.Suggestion != "" {
			body["suggestion"] = re.Suggestion
		}
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
	}
	c.JSON(status, body)
}

// errMessage returns the human message of a coded error, or the plain
// Error() string otherwise.
func errMessage(err error) string {
	var re *ragerr.RagError
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}
