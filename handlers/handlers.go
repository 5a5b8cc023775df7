package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"polymarket-copybot/config"
	"polymarket-copybot/feed"
	"polymarket-copybot/middleware"
	"polymarket-copybot/models"
	"polymarket-copybot/service"
)

const tokenTTL = 12 * time.Hour

// Handler handles HTTP requests
type Handler struct {
	cfg     *config.Config
	service *service.Service
}

// NewHandler creates a new handler
func NewHandler(cfg *config.Config, svc *service.Service) *Handler {
	return &Handler{
		cfg:     cfg,
		service: svc,
	}
}

// Health reports liveness and trading mode.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"paper":  h.cfg.Engine.PaperMode,
	})
}

// GetDecisions returns recent journaled decisions
func (h *Handler) GetDecisions(c *gin.Context) {
	limit := 100
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}

	decisions, err := h.service.Decisions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// GetDecision returns the decision for one event id
func (h *Handler) GetDecision(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event ID required"})
		return
	}

	rec, err := h.service.Decision(c.Request.Context(), id)
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load decision"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"decision": rec})
}

// GetPositions returns the copy ledger
func (h *Handler) GetPositions(c *gin.Context) {
	positions, err := h.service.Positions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

// GetStatus returns engine, pipeline and journal state
func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetMetrics returns pipeline counters and latency only
func (h *Handler) GetMetrics(c *gin.Context) {
	snap := h.service.Metrics(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"pipeline": snap,
		"latency":  snap.Latency(),
	})
}

// Evaluate dry-runs a trade payload against the live ledger
func (h *Handler) Evaluate(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	raw, err := feed.ParseRawTrade(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if raw.Source == "" {
		raw.Source = feed.SourceManual
	}

	decision, err := h.service.DryRun(c.Request.Context(), raw)
	if errors.Is(err, models.ErrInvalidEvent) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision})
}

// IssueToken exchanges the authenticated identity for a bearer token
func (h *Handler) IssueToken(c *gin.Context) {
	if h.cfg.Server.Auth.JWTSecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "token auth not enabled"})
		return
	}
	subject := c.GetString("subject")
	if subject == "" {
		subject = "anonymous"
	}
	token, err := middleware.IssueToken(h.cfg.Server.Auth.JWTSecret, subject, tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
	})
}

// NewRouter wires the API routes.
func NewRouter(cfg *config.Config, svc *service.Service, log *logrus.Entry) *gin.Engine {
	if log == nil {
		log = logrus.WithField("component", "http")
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	h := NewHandler(cfg, svc)
	r.GET("/healthz", h.Health)

	api := r.Group("/api", middleware.Auth(cfg.Server.Auth), middleware.ValidateQueryParams())
	api.GET("/status", h.GetStatus)
	api.GET("/metrics", h.GetMetrics)
	api.GET("/decisions", h.GetDecisions)
	api.GET("/decisions/:id", h.GetDecision)
	api.GET("/positions", h.GetPositions)
	api.POST("/evaluate", h.Evaluate)
	api.POST("/token", h.IssueToken)
	return r
}

// Server runs the HTTP API until its context is cancelled.
type Server struct {
	http            *http.Server
	shutdownTimeout time.Duration
	log             *logrus.Entry
}

// NewServer creates a server for handler on cfg.Port.
func NewServer(cfg config.ServerConfig, handler http.Handler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.WithField("component", "http")
	}
	shutdown := time.Duration(cfg.ShutdownTimeoutMS) * time.Millisecond
	if shutdown <= 0 {
		shutdown = 5 * time.Second
	}
	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  time.Duration(cfg.ReadTimeoutMS) * time.Millisecond,
			WriteTimeout: time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		},
		shutdownTimeout: shutdown,
		log:             log,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.http.Addr).Info("HTTP server starting")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
