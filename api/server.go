// Package api serves the read-only status HTTP API.
package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auxiliary-ai/Walter/logger"
)

// Server exposes stored episodes and aggregate stats over HTTP. It is
// read-only; trading control stays with the process lifecycle.
type Server struct {
	store  *logger.EpisodeStore
	router *gin.Engine
	port   int
}

// NewServer builds the HTTP server around the episode store.
func NewServer(store *logger.EpisodeStore, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		store:  store,
		router: router,
		port:   port,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/api/episodes", s.handleEpisodes)
	router.GET("/api/latest", s.handleLatest)
	router.GET("/api/stats", s.handleStats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Run blocks serving HTTP on the configured port.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("✓ Status API listening on %s", addr)
	return s.router.Run(addr)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleEpisodes returns the most recent episodes, oldest first. limit
// defaults to 50, capped at 500.
func (s *Server) handleEpisodes(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	episodes, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": episodes, "count": len(episodes)})
}

func (s *Server) handleLatest(c *gin.Context) {
	episodes, err := s.store.Recent(c.Request.Context(), 1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(episodes) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no episodes recorded yet"})
		return
	}
	c.JSON(http.StatusOK, episodes[len(episodes)-1])
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
