package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
)

const (
	mimePDF  = "application/pdf"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// HealthFunc reports whether the backing store is reachable.
type HealthFunc func(ctx context.Context) error

// API serves the read-only HTTP views.
type API struct {
	svc    *NoteService
	health HealthFunc
	logger *slog.Logger
}

// NewHTTPHandler builds the gin engine with logging, recovery and CORS.
func NewHTTPHandler(svc *NoteService, health HealthFunc, corsOrigins []string, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))
	engine.Use(CORS(corsOrigins))

	api := &API{svc: svc, health: health, logger: logger}
	registerRoutes(engine, api)
	return engine
}

func registerRoutes(r *gin.Engine, api *API) {
	g := r.Group("/api")
	{
		g.GET("/health", api.handleHealth)

		g.GET("/notes/:id", api.handleGetNote)
		g.GET("/notes/:id/artifacts", api.handleListArtifacts)
		g.GET("/notes/:id/export.pdf", api.handleNotePDF)

		g.GET("/artifacts/:id", api.handleGetArtifact)
		g.GET("/artifacts/:id/export.xlsx", api.handleArtifactXLSX)
		g.GET("/artifacts/:id/audio", api.handleAudio)
	}
}

func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposeHeaders: []string{"Content-Disposition", "X-Request-Id"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// RequestLogger tags each request with an id and logs method, route, status and latency.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header("X-Request-Id", rid)
		log := logger.With("request_id", rid)
		ctx := common.WithLogger(common.WithRequestID(c.Request.Context(), rid), log)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		log.Info("http.request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (a *API) handleHealth(c *gin.Context) {
	if a.health != nil {
		if err := a.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleGetNote(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	n, err := a.svc.GetNote(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (a *API) handleListArtifacts(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	list, err := a.svc.ListArtifacts(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": list})
}

func (a *API) handleGetArtifact(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	art, err := a.svc.GetArtifact(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, art)
}

func (a *API) handleNotePDF(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := a.svc.ExportNotePDF(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	attachment(c, fmt.Sprintf("note-%s.pdf", id))
	c.Data(http.StatusOK, mimePDF, b)
}

func (a *API) handleArtifactXLSX(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := a.svc.ExportArtifactXLSX(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	attachment(c, fmt.Sprintf("artifact-%s.xlsx", id))
	c.Data(http.StatusOK, mimeXLSX, b)
}

func (a *API) handleAudio(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	path, err := a.svc.PodcastAudio(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.Header("Content-Type", "audio/mpeg")
	c.File(path)
}

func attachment(c *gin.Context, name string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) respondError(c *gin.Context, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		common.LoggerFromContext(c.Request.Context(), a.logger).Error("http.request.failed", "route", c.FullPath(), "err", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotReady), errors.Is(err, common.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
