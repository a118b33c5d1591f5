package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/simbafs/stagesync/internal/domain"
)

// Session is the part of the session manager the HTTP surface needs.
type Session interface {
	Handler() http.Handler
	Roster() domain.RosterSnapshot
	LeaderStatus() domain.LeaderStatus
	SelfID() string
}

// Discovery is the part of the discovery service the HTTP surface needs.
type Discovery interface {
	Known() []domain.DiscoveredEndpoint
	Discover(ctx context.Context, timeout time.Duration) ([]domain.DiscoveredEndpoint, error)
}

type SessionAPI struct {
	session   Session
	discovery Discovery
	timeout   time.Duration
}

// NewSessionAPI wires the session hub and peer views. discovery may be nil
// for processes that never browse.
func NewSessionAPI(session Session, discovery Discovery, timeout time.Duration) *SessionAPI {
	return &SessionAPI{
		session:   session,
		discovery: discovery,
		timeout:   timeout,
	}
}

func (s *SessionAPI) Setup(r *gin.Engine) {
	r.GET("/ws", s.Connect)
	r.GET("/api/peers", s.Peers)
	r.GET("/api/leader", s.Leader)
	r.GET("/api/endpoints", s.Endpoints)
	r.POST("/api/endpoints/refresh", s.Refresh)
}

func (s *SessionAPI) Connect(c *gin.Context) {
	h := s.session.Handler()
	if h == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "this process does not host a session"})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

func (s *SessionAPI) Peers(c *gin.Context) {
	snap := s.session.Roster()
	if snap.Peers == nil {
		snap.Peers = []domain.Peer{}
	}
	c.JSON(http.StatusOK, snap)
}

func (s *SessionAPI) Leader(c *gin.Context) {
	c.JSON(http.StatusOK, LeaderResponse{
		SelfID:       s.session.SelfID(),
		LeaderStatus: s.session.LeaderStatus(),
	})
}

func (s *SessionAPI) Endpoints(c *gin.Context) {
	if s.discovery == nil {
		c.JSON(http.StatusOK, []domain.DiscoveredEndpoint{})
		return
	}
	c.JSON(http.StatusOK, endpointsOrEmpty(s.discovery.Known()))
}

func (s *SessionAPI) Refresh(c *gin.Context) {
	if s.discovery == nil {
		writeError(c, domain.ErrDiscoveryDisabled)
		return
	}
	found, err := s.discovery.Discover(c.Request.Context(), s.timeout)
	if err != nil && !errors.Is(err, domain.ErrDiscoveryTimeout) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, endpointsOrEmpty(found))
}

type LeaderResponse struct {
	SelfID string `json:"selfId"`
	domain.LeaderStatus
}

func endpointsOrEmpty(eps []domain.DiscoveredEndpoint) []domain.DiscoveredEndpoint {
	if eps == nil {
		return []domain.DiscoveredEndpoint{}
	}
	return eps
}
