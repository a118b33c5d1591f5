package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/simbafs/stagesync/internal/domain"
)

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidPairingCode):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotLeader):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPeerNotConnected), errors.Is(err, domain.ErrDiscoveryDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	body := gin.H{"error": err.Error()}
	if code := errorCode(err); code != 0 {
		body["code"] = code
	}
	c.JSON(status, body)
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidPairingCode):
		return domain.ErrCodeInvalidPairingCode
	case errors.Is(err, domain.ErrSessionStart):
		return domain.ErrCodeSessionStart
	case errors.Is(err, domain.ErrNotLeader):
		return domain.ErrCodeNotLeader
	case errors.Is(err, domain.ErrPeerNotConnected):
		return domain.ErrCodePeerNotConnected
	}
	return 0
}
