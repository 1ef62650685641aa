package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"client/channel"
	"client/domain"
)

// Event is everything the session loop folds into the state: pushed
// events, results of requests and local actions.
type Event interface {
	event()
}

type GameStartedEvent struct {
	Game *domain.Game
}

type GameEndedEvent struct {
	Game *domain.Game
}

// GameStateEvent carries a game returned by a request. AfterEndRound marks
// the reply of endRound, which may leave the next round WAITING.
type GameStateEvent struct {
	Game          *domain.Game
	AfterEndRound bool
}

type RoundStartedEvent struct {
	domain.RoundStarted
}

type RoundEndedEvent struct {
	domain.RoundEnded
}

type MessageEvent struct {
	Message domain.Message
}

type CorrectGuessEvent struct {
	domain.CorrectGuess
}

type ScoresEvent struct {
	Scores []domain.Score
}

type TimerEvent struct {
	Tick   domain.TimerTick
	Polled bool
}

type DrawingEvent struct {
	Update domain.DrawingUpdate
}

type ErrorEvent struct {
	Err error
}

type DisconnectEvent struct{}

// execEvent runs fn inside the loop so a caller can read or change state
// without racing the reducer.
type execEvent struct {
	fn func(e *engine, now time.Time) error
}

func (GameStartedEvent) event()  {}
func (GameEndedEvent) event()    {}
func (GameStateEvent) event()    {}
func (RoundStartedEvent) event() {}
func (RoundEndedEvent) event()   {}
func (MessageEvent) event()      {}
func (CorrectGuessEvent) event() {}
func (ScoresEvent) event()       {}
func (TimerEvent) event()        {}
func (DrawingEvent) event()      {}
func (ErrorEvent) event()        {}
func (DisconnectEvent) event()   {}
func (execEvent) event()         {}

// pushEvents lists the events a session subscribes to.
var pushEvents = []string{
	channel.EventGameStarted,
	channel.EventRoundStarted,
	channel.EventRoundEnded,
	channel.EventGameEnded,
	channel.EventMessage,
	channel.EventCorrectGuess,
	channel.EventScoresUpdated,
	channel.EventTimerUpdate,
	channel.EventDrawingUpdated,
	channel.EventError,
	channel.EventDisconnect,
}

type errorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RedirectTo string `json:"redirectTo"`
}

// DecodePush turns a raw push payload into an Event.
func DecodePush(name string, data json.RawMessage) (Event, error) {
	switch name {
	case channel.EventGameStarted:
		var g domain.Game
		if err := decode(data, &g); err != nil {
			return nil, err
		}
		return GameStartedEvent{Game: &g}, nil
	case channel.EventGameEnded:
		if isNull(data) {
			return GameEndedEvent{}, nil
		}
		var g domain.Game
		if err := decode(data, &g); err != nil {
			return nil, err
		}
		return GameEndedEvent{Game: &g}, nil
	case channel.EventRoundStarted:
		var p domain.RoundStarted
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return RoundStartedEvent{p}, nil
	case channel.EventRoundEnded:
		var p domain.RoundEnded
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return RoundEndedEvent{p}, nil
	case channel.EventMessage:
		var m domain.Message
		if err := decode(data, &m); err != nil {
			return nil, err
		}
		return MessageEvent{Message: m}, nil
	case channel.EventCorrectGuess:
		var p domain.CorrectGuess
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return CorrectGuessEvent{p}, nil
	case channel.EventScoresUpdated:
		var scores []domain.Score
		if err := decode(data, &scores); err != nil {
			return nil, err
		}
		return ScoresEvent{Scores: scores}, nil
	case channel.EventTimerUpdate:
		var tick domain.TimerTick
		if err := decode(data, &tick); err != nil {
			return nil, err
		}
		return TimerEvent{Tick: tick}, nil
	case channel.EventDrawingUpdated:
		var u domain.DrawingUpdate
		if err := decode(data, &u); err != nil {
			return nil, err
		}
		return DrawingEvent{Update: u}, nil
	case channel.EventError:
		var p errorPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return ErrorEvent{Err: &domain.ServerError{Message: p.Message, Code: p.Code, RedirectTo: p.RedirectTo}}, nil
	case channel.EventDisconnect:
		return DisconnectEvent{}, nil
	}
	return nil, fmt.Errorf("%w: unknown event %q", domain.ErrResponseFormat, name)
}

func decode(data json.RawMessage, v any) error {
	if isNull(data) {
		return fmt.Errorf("%w: empty payload", domain.ErrResponseFormat)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrResponseFormat, err)
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
