package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"client/channel"
	"client/domain"
)

const (
	autoStartDelay       = 3 * time.Second
	firstRoundDelay      = time.Second
	correctGuessEndDelay = 2 * time.Second
	healInterval         = 5 * time.Second

	pollKey = "timer-poll"
)

func startKey(roundID string) string { return "start-round:" + roundID }
func endKey(roundID string) string   { return "end-round:" + roundID }

func (e *engine) onGameStarted(g *domain.Game, now time.Time) error {
	if err := e.loadGame(g); err != nil {
		return err
	}
	game := e.store.Game()
	if game.Status != domain.GamePlaying {
		return nil
	}
	first := e.store.roundByNumber(1)
	if first == nil {
		return nil
	}
	if game.CurrentRoundNum < 1 {
		e.store.SetCurrentRound(1)
	}
	if first.Status == domain.RoundWaiting {
		e.planStart(first.ID, now.Add(firstRoundDelay))
	}
	return nil
}

func (e *engine) onGameEnded(g *domain.Game) error {
	if g != nil {
		if err := e.loadGame(g); err != nil {
			return err
		}
	}
	e.store.SetGameStatus(domain.GameFinished)
	return nil
}

func (e *engine) onRoundStarted(p domain.RoundStarted) error {
	game := e.store.Game()
	if game == nil {
		return domain.ErrNoActiveGame
	}
	if p.GameID != "" && p.GameID != game.ID {
		return fmt.Errorf("%w: roundStarted for game %s", domain.ErrStaleEvent, p.GameID)
	}

	round := p.Round
	if round.GameID == "" {
		round.GameID = game.ID
	}
	n := p.RoundNumber
	if n == 0 {
		n = round.RoundNumber
	}
	if round.RoundNumber == 0 {
		round.RoundNumber = n
	}
	if err := e.store.ApplyRoundEvent(round); err != nil {
		return err
	}
	e.sched.Cancel(startKey(round.ID))
	return e.store.SetCurrentRound(n)
}

func (e *engine) onRoundEnded(p domain.RoundEnded, now time.Time) error {
	game := e.store.Game()
	if game == nil {
		return domain.ErrNoActiveGame
	}
	if p.GameID != "" && p.GameID != game.ID {
		return fmt.Errorf("%w: roundEnded for game %s", domain.ErrStaleEvent, p.GameID)
	}

	if ended := e.store.roundByNumber(p.RoundNumber); ended != nil {
		e.store.PromoteRound(ended.ID, domain.RoundFinished)
		e.sched.Cancel(endKey(ended.ID))
	}
	e.timer.Reset()
	e.store.notify(ChangeTimer)

	if p.NextRound == nil {
		return nil
	}
	next := *p.NextRound
	if next.GameID == "" {
		next.GameID = game.ID
	}
	if err := e.store.ApplyRoundEvent(next); err != nil {
		return err
	}
	if err := e.store.SetCurrentRound(next.RoundNumber); err != nil {
		return err
	}
	if held := e.store.Round(next.ID); held != nil && held.Status == domain.RoundWaiting {
		e.planStart(held.ID, now.Add(autoStartDelay))
	}
	return nil
}

// planPendingStart schedules a start for the active round when a PLAYING
// game is left with its current round WAITING.
func (e *engine) planPendingStart(now time.Time, delay time.Duration) {
	game, round := e.store.Game(), e.store.ActiveRound()
	if game == nil || round == nil {
		return
	}
	if game.Status == domain.GamePlaying && round.Status == domain.RoundWaiting {
		e.planStart(round.ID, now.Add(delay))
	}
}

func (e *engine) planStart(roundID string, at time.Time) {
	gameID := e.store.Game().ID
	e.sched.Schedule(startKey(roundID), at, func() bool {
		game, round := e.store.Game(), e.store.ActiveRound()
		return game != nil && game.ID == gameID && game.Status == domain.GamePlaying &&
			round != nil && round.ID == roundID && round.Status == domain.RoundWaiting
	}, func(time.Time) {
		e.log.Info().Str("game", gameID).Str("round", roundID).Msg("auto-starting round")
		e.fx.startRound(gameID)
	})
}

// planCorrectGuessEnd ends a GUESSING round shortly after any correct
// guess newer than the round start. It runs on every state change, so a
// guess that lands before the round reaches GUESSING, or one carried in a
// snapshot, still counts. Only the drawer or the room owner sends the
// request, once per round.
func (e *engine) planCorrectGuessEnd(now time.Time) {
	game, round := e.store.Game(), e.store.ActiveRound()
	if game == nil || round == nil || round.Status != domain.RoundGuessing {
		return
	}
	if e.guessEndRound == round.ID || !e.canControl() {
		return
	}
	guessed := slices.ContainsFunc(game.Messages, func(m domain.Message) bool {
		return m.IsCorrect && m.CreatedAt.After(round.StartedAt)
	})
	if !guessed {
		return
	}
	gameID, roundID := game.ID, round.ID
	e.guessEndRound = roundID
	e.sched.Schedule(endKey(roundID), now.Add(correctGuessEndDelay), func() bool {
		game, round := e.store.Game(), e.store.ActiveRound()
		return game != nil && game.ID == gameID &&
			round != nil && round.ID == roundID && round.Status == domain.RoundGuessing
	}, func(time.Time) {
		e.log.Info().Str("game", gameID).Str("round", roundID).Msg("ending round after correct guess")
		e.fx.endRound(gameID)
	})
}

func (e *engine) detectGameEnd(now time.Time) {
	game := e.store.Game()
	if game == nil || game.Status != domain.GameFinished || e.endedGameID == game.ID {
		return
	}
	e.endedGameID = game.ID
	e.winners = domain.Winners(game.Scores)

	endedAt := now
	if game.EndedAt != nil {
		endedAt = *game.EndedAt
	}
	e.fx.gameEnded(domain.GameResult{
		GameID:  game.ID,
		RoomID:  game.RoomID,
		EndedAt: endedAt,
		Winners: append([]domain.Score(nil), e.winners...),
		Scores:  append([]domain.Score(nil), game.Scores...),
	})
	e.store.notify(ChangeGameOver)
}

// StartGame begins a game in roomID. When the server reports a game already
// in progress it loads that game instead.
func (s *Session) StartGame(ctx context.Context, roomID string) (*domain.Game, error) {
	if err := s.exec(ctx, func(e *engine, _ time.Time) error {
		e.clear()
		return nil
	}); err != nil {
		return nil, err
	}

	ack, err := s.request(ctx, channel.RequestStartGame, map[string]string{"roomId": roomID})
	if err != nil {
		var serverErr *domain.ServerError
		if !errors.As(err, &serverErr) || !serverErr.AlreadyInProgress() {
			return nil, err
		}
		if serverErr.GameID == "" {
			return nil, fmt.Errorf("%w (No game ID provided)", err)
		}
		s.log.Info().Str("game", serverErr.GameID).Msg("game already in progress, loading it")
		game, err := s.GetGameState(ctx, serverErr.GameID)
		if err != nil {
			return nil, fmt.Errorf("%s (Failed to fetch existing game): %w", serverErr.Message, err)
		}
		return game, nil
	}
	return s.applyGameAck(ctx, ack, false)
}

func (s *Session) StartRound(ctx context.Context, gameID string) (*domain.Game, error) {
	ack, err := s.request(ctx, channel.RequestStartRound, gameID)
	if err != nil {
		return nil, err
	}
	return s.applyGameAck(ctx, ack, false)
}

// EndRound clears the canvas of the ending round, then ends it. A reply
// leaving the next round WAITING schedules its start like a roundEnded push.
func (s *Session) EndRound(ctx context.Context, gameID string) (*domain.Game, error) {
	var cleared domain.DrawingUpdate
	err := s.exec(ctx, func(e *engine, _ time.Time) error {
		var err error
		cleared, err = e.drawing.Clear()
		return err
	})
	if err == nil {
		if _, err := s.request(ctx, channel.RequestDrawing, cleared); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear canvas before ending round")
		}
	}

	ack, err := s.request(ctx, channel.RequestEndRound, gameID)
	if err != nil {
		return nil, err
	}
	return s.applyGameAck(ctx, ack, true)
}

func (s *Session) GetGameState(ctx context.Context, id string) (*domain.Game, error) {
	ack, err := s.request(ctx, channel.RequestGameState, id)
	if err != nil {
		return nil, err
	}
	return s.applyGameAck(ctx, ack, false)
}

func (s *Session) applyGameAck(ctx context.Context, ack channel.Ack, afterEndRound bool) (*domain.Game, error) {
	var game domain.Game
	if err := ack.Decode(&game); err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, GameStateEvent{Game: &game, AfterEndRound: afterEndRound}); err != nil {
		return nil, err
	}
	return s.Snapshot().Game, nil
}
