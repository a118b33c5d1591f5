package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/simbafs/stagesync/internal/registry"
)

type DisplayAPI struct {
	displays *registry.UseCases
	cfg      SweepConfig
}

func NewDisplayAPI(displays *registry.UseCases, cfg SweepConfig) *DisplayAPI {
	return &DisplayAPI{
		displays: displays,
		cfg:      cfg,
	}
}

func (a *DisplayAPI) Setup(r *gin.Engine) {
	church := r.Group("/api/churches/:churchId/displays")
	church.POST("", a.Pair)
	church.GET("", a.List)
	church.POST("/sweep", a.Sweep)

	display := r.Group("/api/displays")
	display.POST("/heartbeat", a.Heartbeat)
	display.GET("/:id", a.Get)
	display.PUT("/:id", a.Update)
	display.DELETE("/:id", a.Delete)
}

func (a *DisplayAPI) Pair(c *gin.Context) {
	var body PairDisplayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := a.displays.Pair.Execute(c.Request.Context(), body.input(c.Param("churchId")))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toDisplayResponse(d))
}

func (a *DisplayAPI) List(c *gin.Context) {
	displays, err := a.displays.List.Execute(c.Request.Context(), c.Param("churchId"))
	if err != nil {
		writeError(c, err)
		return
	}

	body := make([]DisplayResponse, len(displays))
	for i := range displays {
		body[i] = toDisplayResponse(&displays[i])
	}

	c.JSON(http.StatusOK, body)
}

func (a *DisplayAPI) Sweep(c *gin.Context) {
	n, err := a.displays.Sweep.Execute(c.Request.Context(), c.Param("churchId"), a.cfg.Staleness)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SweepResponse{MarkedOffline: n})
}

func (a *DisplayAPI) Heartbeat(c *gin.Context) {
	var body HeartbeatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := a.displays.Heartbeat.Execute(c.Request.Context(), body.PairingCode)
	if err != nil {
		slog.Debug("heartbeat rejected", "error", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toDisplayResponse(d))
}

func (a *DisplayAPI) Get(c *gin.Context) {
	d, err := a.displays.Get.Execute(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toDisplayResponse(d))
}

func (a *DisplayAPI) Update(c *gin.Context) {
	var body registry.UpdateInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := a.displays.Update.Execute(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toDisplayResponse(d))
}

func (a *DisplayAPI) Delete(c *gin.Context) {
	if err := a.displays.Delete.Execute(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
