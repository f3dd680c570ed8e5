// Package httpserver exposes the notifyd HTTP API.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/notifyd/notifyd/internal/cache"
	"github.com/notifyd/notifyd/internal/database"
	apperrors "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/middleware"
	"github.com/notifyd/notifyd/internal/notification"
	"github.com/notifyd/notifyd/internal/telemetry"
)

// Server wraps the gin router and its HTTP listener.
type Server struct {
	service *notification.Service
	db      *database.DB
	cache   *cache.Service
	logger  *telemetry.Logger
	srv     *http.Server
}

// New builds the API server. cache may be nil.
func New(addr string, service *notification.Service, db *database.DB, cacheSvc *cache.Service, logger *telemetry.Logger, development bool) *Server {
	if logger == nil {
		logger = telemetry.GetGlobalLogger()
	}
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		service: service,
		db:      db,
		cache:   cacheSvc,
		logger:  logger,
	}

	router := gin.New()
	router.Use(middleware.Logging(nil))
	router.Use(middleware.Recovery())

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/notifications", s.createNotification)
		v1.GET("/notifications/:id", s.getNotification)
		v1.POST("/notifications/:id/retry_delivery", s.retryDelivery)
		v1.POST("/system/trigger_processing", s.triggerProcessing)
		v1.GET("/system/stats", s.stats)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.srv.Addr).Info("HTTP server starting")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type createNotificationRequest struct {
	UserID  int64    `json:"user_id" binding:"required,gt=0"`
	Title   string   `json:"title" binding:"required,max=200"`
	Message string   `json:"message" binding:"required"`
	Type    string   `json:"notification_type"`
	Methods []string `json:"methods"`
}

func (s *Server) createNotification(c *gin.Context) {
	var req createNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	methods := make([]notification.Method, 0, len(req.Methods))
	for _, m := range req.Methods {
		methods = append(methods, notification.Method(m))
	}

	n, msgs, err := s.service.Create(c.Request.Context(), notification.CreateRequest{
		UserID:  req.UserID,
		Title:   req.Title,
		Message: req.Message,
		Type:    notification.Type(req.Type),
		Methods: methods,
	})
	if err != nil {
		if errors.Is(err, notification.ErrInvalidInput) {
			middleware.RespondError(c, apperrors.NewValidationError(err.Error()))
			return
		}
		middleware.RespondError(c, apperrors.NewDatabaseError("create notification", err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"notification":    n,
		"outbox_messages": msgs,
	})
}

func (s *Server) getNotification(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.RespondError(c, apperrors.NewValidationError("invalid notification id"))
		return
	}

	n, msgs, err := s.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			middleware.RespondError(c, apperrors.NewNotFoundError("notification"))
			return
		}
		middleware.RespondError(c, apperrors.NewDatabaseError("get notification", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notification":    n,
		"outbox_messages": msgs,
	})
}

func (s *Server) retryDelivery(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.RespondError(c, apperrors.NewValidationError("invalid notification id"))
		return
	}

	reopened, err := s.service.RetryDelivery(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			middleware.RespondError(c, apperrors.NewNotFoundError("notification"))
			return
		}
		middleware.RespondError(c, apperrors.NewDatabaseError("retry delivery", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"reopened": reopened})
}

func (s *Server) triggerProcessing(c *gin.Context) {
	s.service.TriggerProcessing()
	c.JSON(http.StatusAccepted, gin.H{"status": "processing triggered"})
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.service.Stats(c.Request.Context())
	if err != nil {
		middleware.RespondError(c, apperrors.NewDatabaseError("stats", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := s.db.Health(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["database"] = "healthy"
	}

	if s.cache != nil {
		if err := s.cache.Health(ctx); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			checks["redis"] = "healthy"
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
