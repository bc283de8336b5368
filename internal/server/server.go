// Package server exposes the watch API, the credential channel and metrics
// over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tastythames/hpc-jobwatch/internal/cache"
	"github.com/tastythames/hpc-jobwatch/internal/metrics"
	"github.com/tastythames/hpc-jobwatch/internal/prompt"
	"github.com/tastythames/hpc-jobwatch/internal/scheduler"
)

// Watches is implemented by *scheduler.Scheduler.
type Watches interface {
	Add(w *scheduler.Watch)
	RemoveProject(projectRootDir string) []string
}

// Projects is implemented by *connreg.Registry.
type Projects interface {
	RemoveEntry(projectRootDir string)
}

type Deps struct {
	Hub      *prompt.Hub
	Metrics  *metrics.Renderer
	Watches  Watches
	Projects Projects
	Cache    cache.Cache
	Log      zerolog.Logger
}

type Server struct {
	Engine *gin.Engine
	deps   Deps
	srv    *http.Server
}

func NewServer(d Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(d.Log))
	s := &Server{Engine: r, deps: d}
	s.RegisterRoutes(r)
	return s
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	}
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Engine}
	s.deps.Log.Info().Str("listen", addr).Msg("jobwatch listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
