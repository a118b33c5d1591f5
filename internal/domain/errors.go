package domain

import "errors"

// Error Codes sent to peers in "error" envelopes.
const (
	// Connection Errors (1xxx)
	ErrCodeInvalidQueryParams = 1001
	ErrCodeInvalidRole        = 1002

	// Registration Errors (2xxx)
	ErrCodeSessionStart       = 2001
	ErrCodeInvalidPairingCode = 2002

	// Routing Errors (3xxx)
	ErrCodePeerNotConnected = 3001
	ErrCodeNotLeader        = 3002

	// Communication Errors (4xxx)
	ErrCodeInvalidMessageFormat = 4001
	ErrCodeUnknownMessageType   = 4002
)

var (
	// ErrDiscoveryTimeout is returned when a discovery pass found nothing.
	// The previously known endpoints are returned alongside it.
	ErrDiscoveryTimeout = errors.New("discovery timed out without results")
	// ErrDiscoveryDisabled is returned when a display-role process is asked to browse.
	ErrDiscoveryDisabled = errors.New("discovery disabled for display role")
	ErrSessionStart      = errors.New("session start failed")
	ErrPeerNotConnected  = errors.New("peer not connected")
	ErrDownloadFailed    = errors.New("download failed")
	// ErrRegistryUnreachable wraps transport failures talking to the display registry.
	ErrRegistryUnreachable = errors.New("registry unreachable")
	ErrInvalidPairingCode  = errors.New("invalid pairing code")
	ErrNotFound            = errors.New("not found")
	ErrNotLeader           = errors.New("this controller is not the leader")
	ErrInvalidInput        = errors.New("invalid input")
)
