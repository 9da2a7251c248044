// Package api exposes the Loom's read and control surface over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/loom/internal/logger"
	"github.com/roach88/loom/internal/service"
)

// Handlers serves the /v1 routes from one Service.
type Handlers struct {
	svc *service.Service
	log logger.Logger
}

// NewHandlers builds the route handlers. A nil log discards output.
func NewHandlers(svc *service.Service, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handlers{svc: svc, log: log}
}

// RegisterRoutes registers every /v1 endpoint on rg.
//
//	POST   /window                     generate the window {weeks}
//	PUT    /window                     resize the window {weeks}
//	GET    /window                     persisted window
//	POST   /window/roll                out-of-cycle roll
//	POST   /window/reproject?full=     reproject the current window
//	GET    /instances?start=&end=      instances with rows and shortfall
//	GET    /instances/:id
//	PATCH  /instances/:id              operator edit
//	DELETE /instances/:id/override     hand back to the projector
//	POST   /instances/:id/participants allocate participants
//	POST   /instances/:id/staff        assign staff
//	POST   /instances/:id/vehicles     assign vehicles
//	POST   /instances/:id/reoptimize   full reallocation
//	POST   /attendance/:id/cancel      {type}
//	PUT    /attendance/:id/status      {status}
//	POST   /shifts/:id/sick            report sickness
//	GET    /payments?status=
//	POST   /payments/billed            {ids}
//	POST   /rules                      import a JSON, YAML or CUE rule file
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.POST("/window", h.GenerateWindow)
	rg.PUT("/window", h.ResizeWindow)
	rg.GET("/window", h.GetWindow)
	rg.POST("/window/roll", h.RollNow)
	rg.POST("/window/reproject", h.Reproject)

	inst := rg.Group("/instances")
	inst.GET("", h.GetInstances)
	inst.GET("/:id", h.GetInstance)
	inst.PATCH("/:id", h.EditInstance)
	inst.DELETE("/:id/override", h.ClearOverride)
	inst.POST("/:id/participants", h.AllocateParticipants)
	inst.POST("/:id/staff", h.AssignStaff)
	inst.POST("/:id/vehicles", h.AssignVehicles)
	inst.POST("/:id/reoptimize", h.ReoptimizeInstance)

	rg.POST("/attendance/:id/cancel", h.CancelParticipant)
	rg.PUT("/attendance/:id/status", h.SetAttendanceStatus)
	rg.POST("/shifts/:id/sick", h.ReportStaffSickness)

	rg.GET("/payments", h.ListPayments)
	rg.POST("/payments/billed", h.MarkBilled)

	rg.POST("/rules", h.ImportRules)
}

// NewRouter builds the engine: recovery, request logging, /healthz,
// /metrics from gatherer (the default gatherer when nil) and the /v1 routes.
func NewRouter(svc *service.Service, log logger.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := NewHandlers(svc, log)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("request", map[string]any{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
	}
}
