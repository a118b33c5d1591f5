package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/simbafs/stagesync/internal/control"
	"github.com/simbafs/stagesync/internal/domain"
)

// Controller issues show commands to the displays in the session.
type Controller interface {
	ShowLyrics(ctx context.Context, data domain.LyricsData) error
	ShowSlide(ctx context.Context, data domain.SlideData) error
	Blackout(ctx context.Context, data domain.BlackData) error
	Precache(ctx context.Context, items []domain.PrecacheItem, timeout time.Duration) (control.Readiness, error)
}

type ControlAPI struct {
	controller      Controller
	precacheTimeout time.Duration
}

func NewControlAPI(controller Controller, precacheTimeout time.Duration) *ControlAPI {
	return &ControlAPI{
		controller:      controller,
		precacheTimeout: precacheTimeout,
	}
}

func (a *ControlAPI) Setup(r *gin.Engine) {
	ctl := r.Group("/api/control")
	ctl.POST("/lyrics", a.Lyrics)
	ctl.POST("/slide", a.Slide)
	ctl.POST("/black", a.Black)
	ctl.POST("/precache", a.Precache)
}

func (a *ControlAPI) Lyrics(c *gin.Context) {
	var body domain.LyricsData
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.controller.ShowLyrics(c.Request.Context(), body); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (a *ControlAPI) Slide(c *gin.Context) {
	var body domain.SlideData
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.SlideIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slideIndex must not be negative"})
		return
	}
	if err := a.controller.ShowSlide(c.Request.Context(), body); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (a *ControlAPI) Black(c *gin.Context) {
	var body domain.BlackData
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.controller.Blackout(c.Request.Context(), body); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (a *ControlAPI) Precache(c *gin.Context) {
	var body PrecacheRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := a.precacheTimeout
	if body.TimeoutMs > 0 {
		timeout = time.Duration(body.TimeoutMs) * time.Millisecond
	}

	r, err := a.controller.Precache(c.Request.Context(), body.Items, timeout)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, PrecacheResponse{Summary: r.Summary(), Readiness: r})
}

// PrecacheRequest for POST /api/control/precache
type PrecacheRequest struct {
	Items     []domain.PrecacheItem `json:"items" binding:"required,min=1,dive"`
	TimeoutMs int64                 `json:"timeoutMs"`
}

type PrecacheResponse struct {
	Summary string `json:"summary"`
	control.Readiness
}
