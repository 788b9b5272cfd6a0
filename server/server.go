// Package server exposes a decode in progress over HTTP, per
// SPEC_FULL.md's control-plane addition: a thin gin layer around a
// decoder.Driver, for callers that want to push acoustic frames one at a
// time instead of linking the driver directly.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/internal/decoder"
	"github.com/voxwave/decoder/internal/graph"
	"github.com/voxwave/decoder/internal/lattice"
	"github.com/voxwave/decoder/logutil"
)

// Server wraps a single in-flight decoder.Driver behind an HTTP API. It
// is not meant to multiplex many concurrent decodes; one Server handles
// one decode session, matching the one-WFST-per-process model spec.md
// §4 assumes.
type Server struct {
	mu     sync.Mutex
	driver *decoder.Driver
	pruner *lattice.Pruner
	opts   api.Options
	frame  int
	dead   error

	engine *gin.Engine
}

// New builds a Server around a freshly constructed driver for wfst and
// scorer. The caller is expected to push frames via LogLikelihoods
// lookups the scorer already knows how to answer (e.g. a scorer backed
// by a streaming acoustic model); frame indices are driven by repeated
// POST /v1/decode/frame calls.
func New(wfst *graph.WFST, scorer graph.AcousticScorer, opts api.Options) *Server {
	driver := decoder.NewDriver(wfst, scorer, opts)
	pruner := lattice.NewPruner(wfst, driver.Kernel().ArcArena(), opts)
	driver.SetCollector(pruner)

	s := &Server{driver: driver, pruner: pruner, opts: opts}
	s.engine = s.newEngine()
	return s
}

// Engine returns the underlying gin.Engine, for tests and for embedding
// into a larger HTTP server.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server on addr, blocking until it returns (or ctx
// is cancelled).
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) newEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/v1/decode/init", s.handleInit)
	r.POST("/v1/decode/frame", s.handleFrame)
	r.POST("/v1/decode/finalize", s.handleFinalize)
	r.GET("/v1/decode/stats", s.handleStats)
	return r
}

func (s *Server) handleInit(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = 0
	s.dead = nil
	if err := s.driver.Init(c.Request.Context()); err != nil {
		s.dead = err
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "initialized"})
}

func (s *Server) handleFrame(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead != nil {
		c.JSON(http.StatusConflict, gin.H{"error": s.dead.Error()})
		return
	}

	frame := s.frame
	if err := s.driver.DecodeFrame(c.Request.Context(), frame); err != nil {
		s.dead = err
		logutil.Logger().Error("decode frame failed", "frame", frame, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.frame++
	c.JSON(http.StatusOK, gin.H{
		"frame":        frame,
		"active_count": s.driver.Kernel().ActiveCount(),
		"reached_final": s.driver.ReachedFinal(),
	})
}

func (s *Server) handleFinalize(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.driver.Finalize(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStats(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"frames_decoded": s.driver.FramesDecoded(),
		"active_count":   s.driver.Kernel().ActiveCount(),
		"reached_final":  s.driver.ReachedFinal(),
		"last_pruned":    s.pruner.LastPruned(),
	})
}
