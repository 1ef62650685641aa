package game

import (
	"fmt"
	"sort"

	"client/domain"
)

// Change flags which parts of the state a mutation touched.
type Change uint16

const (
	ChangeGame Change = 1 << iota
	ChangeRound
	ChangeDrawing
	ChangeMessages
	ChangeScores
	ChangeTimer
	ChangeGameOver
	ChangeConnection
)

func (c Change) Has(flag Change) bool {
	return c&flag != 0
}

var gameStatusRank = map[domain.GameStatus]int{
	domain.GameWaiting:  0,
	domain.GamePlaying:  1,
	domain.GameFinished: 2,
}

// Store is the single source of truth for the current game context. The
// active round is never cached: it is looked up from CurrentRoundNum on
// every access. Owned by the session loop, not safe for concurrent use.
type Store struct {
	game      *domain.Game
	guessed   map[string]map[string]struct{}
	listeners []func(Change)
}

func NewStore() *Store {
	return &Store{guessed: make(map[string]map[string]struct{})}
}

func (s *Store) OnChange(listener func(Change)) {
	s.listeners = append(s.listeners, listener)
}

func (s *Store) notify(c Change) {
	for _, l := range s.listeners {
		l(c)
	}
}

// Game exposes the live game. Callers outside the loop use Snapshot.
func (s *Store) Game() *domain.Game {
	return s.game
}

func (s *Store) Snapshot() *domain.Game {
	return s.game.Clone()
}

func (s *Store) ActiveRound() *domain.Round {
	if s.game == nil {
		return nil
	}
	return s.roundByNumber(s.game.CurrentRoundNum)
}

func (s *Store) Round(id string) *domain.Round {
	if s.game == nil {
		return nil
	}
	for i := range s.game.Rounds {
		if s.game.Rounds[i].ID == id {
			return &s.game.Rounds[i]
		}
	}
	return nil
}

func (s *Store) roundByNumber(n int) *domain.Round {
	for i := range s.game.Rounds {
		if s.game.Rounds[i].RoundNumber == n {
			return &s.game.Rounds[i]
		}
	}
	return nil
}

// ApplyGameSnapshot replaces the game. A snapshot of the game already held
// cannot move a round or the game itself backwards, and a locally drawn
// canvas survives a snapshot without one while PreserveDrawing is set.
func (s *Store) ApplyGameSnapshot(g *domain.Game) error {
	if g == nil {
		return fmt.Errorf("%w: nil game", domain.ErrInvalidData)
	}
	if err := g.Validate(); err != nil {
		return err
	}
	next := g.Clone()
	next.Normalize()
	sortRounds(next.Rounds)

	if prev := s.game; prev != nil && prev.ID == next.ID {
		if gameStatusRank[next.Status] < gameStatusRank[prev.Status] {
			next.Status = prev.Status
			next.EndedAt = prev.EndedAt
		}
		next.PreserveDrawing = next.PreserveDrawing || prev.PreserveDrawing
		for i := range next.Rounds {
			old := s.Round(next.Rounds[i].ID)
			if old == nil {
				continue
			}
			mergeRound(&next.Rounds[i], old, prev.PreserveDrawing)
		}
	} else {
		s.guessed = make(map[string]map[string]struct{})
	}

	s.game = next
	s.notify(ChangeGame | ChangeRound | ChangeDrawing | ChangeMessages | ChangeScores)
	return nil
}

// mergeRound folds the locally held round into an incoming one.
func mergeRound(incoming, held *domain.Round, preserveDrawing bool) {
	if incoming.Status.Rank() < held.Status.Rank() {
		incoming.Status = held.Status
		if incoming.EndedAt == nil {
			incoming.EndedAt = held.EndedAt
		}
	}
	if incoming.Drawing == nil && held.Drawing != nil && preserveDrawing {
		kept := held.Clone()
		incoming.Drawing = kept.Drawing
	}
}

// ApplyRoundEvent upserts a single round pushed by the server.
func (s *Store) ApplyRoundEvent(r domain.Round) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if s.game == nil {
		return domain.ErrNoActiveGame
	}
	if r.GameID != "" && r.GameID != s.game.ID {
		return fmt.Errorf("%w: round %s belongs to game %s", domain.ErrStaleEvent, r.ID, r.GameID)
	}

	incoming := r.Clone()
	if held := s.Round(r.ID); held != nil {
		mergeRound(&incoming, held, true)
		*held = incoming
	} else if held := s.roundByNumber(r.RoundNumber); held != nil {
		*held = incoming
	} else {
		s.game.Rounds = append(s.game.Rounds, incoming)
		sortRounds(s.game.Rounds)
	}
	s.notify(ChangeRound)
	return nil
}

func (s *Store) SetCurrentRound(n int) error {
	if s.game == nil {
		return domain.ErrNoActiveGame
	}
	if s.game.CurrentRoundNum == n {
		return nil
	}
	s.game.CurrentRoundNum = n
	s.notify(ChangeRound | ChangeDrawing)
	return nil
}

// PromoteRound moves a round forward to status. Backward moves are ignored
// and reported as false.
func (s *Store) PromoteRound(id string, status domain.RoundStatus) bool {
	r := s.Round(id)
	if r == nil || status.Rank() <= r.Status.Rank() {
		return false
	}
	r.Status = status
	s.notify(ChangeRound)
	return true
}

// SetGameStatus moves the game status forward only.
func (s *Store) SetGameStatus(status domain.GameStatus) bool {
	if s.game == nil || gameStatusRank[status] <= gameStatusRank[s.game.Status] {
		return false
	}
	s.game.Status = status
	s.notify(ChangeGame)
	return true
}

func (s *Store) AppendMessage(m domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if s.game == nil {
		return domain.ErrNoActiveGame
	}
	s.game.Messages = append(s.game.Messages, m)
	s.notify(ChangeMessages)
	return nil
}

func (s *Store) ReplaceScores(scores []domain.Score) error {
	if err := domain.ValidateScores(scores); err != nil {
		return err
	}
	if s.game == nil {
		return domain.ErrNoActiveGame
	}
	s.game.Scores = append(make([]domain.Score, 0, len(scores)), scores...)
	s.notify(ChangeScores)
	return nil
}

// ReplaceDrawing swaps the stored snapshot of a round's canvas. A nil
// drawing clears it.
func (s *Store) ReplaceDrawing(roundID string, d *domain.Drawing) error {
	r := s.Round(roundID)
	if r == nil {
		return fmt.Errorf("%w: unknown round %s", domain.ErrStaleEvent, roundID)
	}
	if d == nil {
		r.Drawing = nil
	} else {
		c := *d
		c.Paths = domain.ClonePaths(d.Paths)
		r.Drawing = &c
	}
	s.notify(ChangeDrawing)
	return nil
}

func (s *Store) SetPreserveDrawing(v bool) {
	if s.game == nil || s.game.PreserveDrawing == v {
		return
	}
	s.game.PreserveDrawing = v
}

func (s *Store) MarkGuessed(roundID, userID string) {
	users, ok := s.guessed[roundID]
	if !ok {
		users = make(map[string]struct{})
		s.guessed[roundID] = users
	}
	users[userID] = struct{}{}
	s.notify(ChangeRound)
}

func (s *Store) IsDrawer(userID string) bool {
	r := s.ActiveRound()
	return r != nil && userID != "" && r.DrawerID == userID
}

// HasGuessedCorrectly checks both correctGuess pushes and correct chat
// messages posted since the active round started.
func (s *Store) HasGuessedCorrectly(userID string) bool {
	r := s.ActiveRound()
	if r == nil || userID == "" {
		return false
	}
	if _, ok := s.guessed[r.ID][userID]; ok {
		return true
	}
	for _, m := range s.game.Messages {
		if m.UserID == userID && m.IsCorrect && !m.CreatedAt.Before(r.StartedAt) {
			return true
		}
	}
	return false
}

func (s *Store) Reset() {
	if s.game == nil {
		return
	}
	s.game = nil
	s.guessed = make(map[string]map[string]struct{})
	s.notify(ChangeGame | ChangeRound | ChangeDrawing | ChangeMessages | ChangeScores)
}

func sortRounds(rounds []domain.Round) {
	sort.SliceStable(rounds, func(i, j int) bool {
		return rounds[i].RoundNumber < rounds[j].RoundNumber
	})
}
