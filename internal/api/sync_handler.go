package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"offline-pos/internal/ingest"
	"offline-pos/internal/models"

	"github.com/gin-gonic/gin"
)

const claimsKey = "terminal_claims"

// Ingester is the receiver's packet sink.
type Ingester interface {
	Ingest(ctx context.Context, claims *ingest.Claims, packet *models.SyncPacket) (*models.SyncAck, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncHandler serves the receiver API that terminals deliver packets to.
type SyncHandler struct {
	ingester Ingester
	secret   []byte
	deps     map[string]Pinger
}

// NewSyncHandler creates the receiver handler. deps are checked by /ready.
func NewSyncHandler(ingester Ingester, secret []byte, deps map[string]Pinger) *SyncHandler {
	return &SyncHandler{ingester: ingester, secret: secret, deps: deps}
}

func (h *SyncHandler) Router(allowedOrigins []string) *gin.Engine {
	router := newRouter(allowedOrigins)
	h.SetupRoutes(router)
	return router
}

// SetupRoutes sets up HTTP routes
func (h *SyncHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/ready", h.readinessCheck)

	v1 := router.Group("/api/v1")
	v1.Use(h.authMiddleware())
	{
		v1.POST("/sync", h.ingest)
	}
}

// authMiddleware accepts only HS256 terminal tokens signed with the receiver secret.
func (h *SyncHandler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}
		claims, err := ingest.ParseToken(h.secret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid bearer token",
				"details": err.Error(),
			})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func (h *SyncHandler) ingest(c *gin.Context) {
	var packet models.SyncPacket
	if err := c.ShouldBindJSON(&packet); err != nil {
		c.JSON(http.StatusBadRequest, models.SyncAck{
			Status: models.AckRejected,
			Errors: []string{err.Error()},
		})
		return
	}

	claims, _ := c.MustGet(claimsKey).(*ingest.Claims)
	ack, err := h.ingester.Ingest(c.Request.Context(), claims, &packet)
	if errors.Is(err, ingest.ErrPacketBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": "Packet is being ingested", "details": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest packet", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (h *SyncHandler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "details": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
