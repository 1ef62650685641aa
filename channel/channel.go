package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"client/domain"
)

// Push events
const (
	EventGameStarted    = "gameStarted"
	EventRoundStarted   = "roundStarted"
	EventRoundEnded     = "roundEnded"
	EventGameEnded      = "gameEnded"
	EventMessage        = "message"
	EventCorrectGuess   = "correctGuess"
	EventScoresUpdated  = "scoresUpdated"
	EventTimerUpdate    = "timerUpdate"
	EventDrawingUpdated = "drawingUpdated"
	EventError          = "error"
	EventRooms          = "rooms"
	EventRoomCreated    = "roomCreated"
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"

	// EventDisconnect is raised locally when the transport goes away.
	EventDisconnect = "disconnect"
)

// Requests
const (
	RequestStartGame   = "startGame"
	RequestStartRound  = "startRound"
	RequestEndRound    = "endRound"
	RequestGameState   = "getGameState"
	RequestSendMessage = "sendMessage"
	RequestDrawing     = "updateDrawing"
	RequestTimerState  = "requestTimerState"
	RequestRooms       = "getRooms"
	RequestRoom        = "getRoom"
	RequestCreateRoom  = "createRoom"
	RequestJoinRoom    = "joinRoom"
	RequestLeaveRoom   = "leaveRoom"
)

// Handler receives the raw payload of a push event.
type Handler func(data json.RawMessage)

type Channel interface {
	Connect(ctx context.Context, token string) error
	Close() error
	// Emit sends a request and blocks until the server acknowledges it or
	// ctx is done.
	Emit(ctx context.Context, event string, payload any) (Ack, error)
	// Subscribe registers h for event and returns the matching unsubscribe.
	Subscribe(event string, h Handler) func()
	Connected() bool
}

// Ack is the acknowledgement envelope every request resolves with.
type Ack struct {
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
	RedirectTo string          `json:"redirectTo,omitempty"`
	GameID     string          `json:"gameId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`

	// Raw keeps the whole envelope for replies with top-level fields.
	Raw json.RawMessage `json:"-"`
}

func ParseAck(raw json.RawMessage) (Ack, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Ack{}, fmt.Errorf("%w: empty acknowledgement", domain.ErrResponseFormat)
	}
	var ack Ack
	if err := json.Unmarshal(trimmed, &ack); err != nil {
		return Ack{}, fmt.Errorf("%w: %w", domain.ErrResponseFormat, err)
	}
	ack.Raw = append(json.RawMessage(nil), trimmed...)
	return ack, nil
}

// Err converts an error envelope into a *domain.ServerError.
func (a Ack) Err() error {
	if a.Error == "" {
		return nil
	}
	return &domain.ServerError{
		Message:    a.Error,
		Code:       a.Code,
		RedirectTo: a.RedirectTo,
		GameID:     a.GameID,
	}
}

// Decode unmarshals the data member of the envelope.
func (a Ack) Decode(v any) error {
	if isEmpty(a.Data) {
		return fmt.Errorf("%w: missing data", domain.ErrResponseFormat)
	}
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrResponseFormat, err)
	}
	return nil
}

// DecodeRaw unmarshals the envelope itself.
func (a Ack) DecodeRaw(v any) error {
	if isEmpty(a.Raw) {
		return fmt.Errorf("%w: missing envelope", domain.ErrResponseFormat)
	}
	if err := json.Unmarshal(a.Raw, v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrResponseFormat, err)
	}
	return nil
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
