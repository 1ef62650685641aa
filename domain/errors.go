package domain

import (
	"errors"
	"strings"
)

// Transport errors
var (
	ErrNotConnected      = errors.New("socket-not-connected")
	ErrConnectionTimeout = errors.New("connection-timeout")
	ErrRequestTimeout    = errors.New("request-timeout")
	ErrDisconnected      = errors.New("socket-disconnected")
	ErrNotAuthenticated  = errors.New("not-authenticated")
)

// Protocol errors
var (
	ErrResponseFormat = errors.New("invalid-response-format")
	ErrInvalidData    = errors.New("invalid-data")
	ErrStaleEvent     = errors.New("stale-event")
)

// Local precondition errors
var (
	ErrNoActiveGame     = errors.New("no-active-game")
	ErrNoActiveRound    = errors.New("no-active-round")
	ErrNotDrawer        = errors.New("not-drawer")
	ErrGameNotPlaying   = errors.New("game-not-playing")
	ErrRoundNotDrawable = errors.New("round-not-drawable")
	ErrInvalidRoomInput = errors.New("invalid-room-options")
)

// Archive errors
var (
	UnexpectedDatabaseError = errors.New("unexpected-database-error")
	ErrResultNotFound       = errors.New("result-not-found")
)

const (
	AuthCodeTokenExpired = "TOKEN_EXPIRED"
	AuthCodeAuthFailed   = "AUTH_FAILED"
)

// ServerError is a failure reported by the server inside an acknowledgement
// envelope. Message is kept verbatim.
type ServerError struct {
	Message    string
	Code       string
	RedirectTo string
	GameID     string
}

func (e *ServerError) Error() string {
	return e.Message
}

// AlreadyInProgress reports the one domain error the client recovers from.
func (e *ServerError) AlreadyInProgress() bool {
	return strings.Contains(e.Message, "already in progress")
}

// AuthError is the normalized error handed to the session-termination handler.
type AuthError struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

func (e *AuthError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
