// Package status exposes a read-only HTTP view of the cluster.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luca-patrignani/byzantine-generals/consensus"
	"github.com/luca-patrignani/byzantine-generals/ledger"
	"github.com/luca-patrignani/byzantine-generals/telemetry"
)

// Source is what the server reports on.
type Source interface {
	Snapshots() []consensus.Snapshot
	Ledger() *ledger.Ledger
}

type Server struct {
	src       Source
	logger    *slog.Logger
	ginEngine *gin.Engine
	http      *http.Server
}

func New(addr string, src Source, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		src:       src,
		logger:    logger,
		ginEngine: router,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.ginEngine.GET("/healthz", s.handleHealth)
	s.ginEngine.GET("/generals", s.handleGenerals)
	s.ginEngine.GET("/generals/:id", s.handleGeneral)
	s.ginEngine.GET("/rounds", s.handleRounds)
	s.ginEngine.GET("/rounds/:index", s.handleRound)
	s.ginEngine.GET("/metrics", gin.WrapH(telemetry.Handler()))
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.ginEngine
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("status server listening", "address", l.Addr().String())
	go func() {
		if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleGenerals(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Snapshots())
}

func (s *Server) handleGeneral(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, snap := range s.src.Snapshots() {
		if snap.ID == id {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown general"})
}

func (s *Server) handleRounds(c *gin.Context) {
	l := s.src.Ledger()
	c.JSON(http.StatusOK, gin.H{
		"blocks":   l.Blocks(),
		"verified": l.Verify() == nil,
	})
}

func (s *Server) handleRound(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := s.src.Ledger().GetByIndex(index)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}
