package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type GameStatus string

const (
	GameWaiting  GameStatus = "WAITING"
	GamePlaying  GameStatus = "PLAYING"
	GameFinished GameStatus = "FINISHED"
)

type RoundStatus string

const (
	RoundWaiting  RoundStatus = "WAITING"
	RoundDrawing  RoundStatus = "DRAWING"
	RoundGuessing RoundStatus = "GUESSING"
	RoundFinished RoundStatus = "FINISHED"
)

// Rank orders round statuses along the only direction they may move.
func (s RoundStatus) Rank() int {
	switch s {
	case RoundWaiting:
		return 0
	case RoundDrawing:
		return 1
	case RoundGuessing:
		return 2
	case RoundFinished:
		return 3
	}
	return -1
}

// Active is true while strokes can be drawn and guesses made.
func (s RoundStatus) Active() bool {
	return s == RoundDrawing || s == RoundGuessing
}

type Game struct {
	ID              string     `json:"id"`
	RoomID          string     `json:"roomId"`
	CurrentRoundNum int        `json:"currentRoundNum"`
	Status          GameStatus `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	Rounds          []Round    `json:"rounds"`
	Scores          []Score    `json:"scores"`
	Messages        []Message  `json:"messages"`
	PreserveDrawing bool       `json:"preserveDrawing,omitempty"`
}

type Round struct {
	ID          string      `json:"id"`
	GameID      string      `json:"gameId"`
	RoundNumber int         `json:"roundNumber"`
	Word        string      `json:"word"`
	DrawerID    string      `json:"drawerId,omitempty"`
	Status      RoundStatus `json:"status"`
	StartedAt   time.Time   `json:"startedAt"`
	EndedAt     *time.Time  `json:"endedAt,omitempty"`
	Drawing     *Drawing    `json:"-"`
}

type roundWire struct {
	ID          string      `json:"id"`
	GameID      string      `json:"gameId"`
	RoundNumber int         `json:"roundNumber"`
	Word        string      `json:"word"`
	DrawerID    string      `json:"drawerId,omitempty"`
	Status      RoundStatus `json:"status"`
	StartedAt   time.Time   `json:"startedAt"`
	EndedAt     *time.Time  `json:"endedAt,omitempty"`
	Drawings    []Drawing   `json:"drawings,omitempty"`
}

// UnmarshalJSON keeps only the newest entry of the wire "drawings" list.
func (r *Round) UnmarshalJSON(data []byte) error {
	var w roundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Round{
		ID:          w.ID,
		GameID:      w.GameID,
		RoundNumber: w.RoundNumber,
		Word:        w.Word,
		DrawerID:    w.DrawerID,
		Status:      w.Status,
		StartedAt:   w.StartedAt,
		EndedAt:     w.EndedAt,
	}
	if n := len(w.Drawings); n > 0 {
		latest := w.Drawings[n-1]
		r.Drawing = &latest
	}
	return nil
}

func (r Round) MarshalJSON() ([]byte, error) {
	w := roundWire{
		ID:          r.ID,
		GameID:      r.GameID,
		RoundNumber: r.RoundNumber,
		Word:        r.Word,
		DrawerID:    r.DrawerID,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
	}
	if r.Drawing != nil {
		w.Drawings = []Drawing{*r.Drawing}
	}
	return json.Marshal(w)
}

type Drawing struct {
	ID        string    `json:"id"`
	RoundID   string    `json:"roundId"`
	UserID    string    `json:"userId"`
	Paths     []Path    `json:"paths"`
	CreatedAt time.Time `json:"createdAt"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Path is one stroke. DrawMode false marks an erase stroke.
type Path struct {
	DrawMode    bool    `json:"drawMode"`
	StrokeColor string  `json:"strokeColor"`
	StrokeWidth float64 `json:"strokeWidth"`
	Points      []Point `json:"points"`
}

func (p Path) Erase() bool {
	return !p.DrawMode
}

type ScoreUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Score struct {
	ID        string     `json:"id"`
	GameID    string     `json:"gameId"`
	UserID    string     `json:"userId"`
	Score     int        `json:"score"`
	Correct   int        `json:"correct"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	User      *ScoreUser `json:"user,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	GameID    string    `json:"gameId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	IsCorrect bool      `json:"isCorrect"`
	CreatedAt time.Time `json:"createdAt"`
}

func (g *Game) Validate() error {
	if g.ID == "" || g.RoomID == "" {
		return fmt.Errorf("%w: game without id or room id", ErrInvalidData)
	}
	for i := range g.Rounds {
		if err := g.Rounds[i].Validate(); err != nil {
			return err
		}
	}
	for i := range g.Messages {
		if err := g.Messages[i].Validate(); err != nil {
			return err
		}
	}
	return ValidateScores(g.Scores)
}

// Normalize replaces absent collections with empty ones.
func (g *Game) Normalize() {
	if g.Rounds == nil {
		g.Rounds = []Round{}
	}
	if g.Scores == nil {
		g.Scores = []Score{}
	}
	if g.Messages == nil {
		g.Messages = []Message{}
	}
}

func (r *Round) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: round without id", ErrInvalidData)
	}
	return nil
}

func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: message without id", ErrInvalidData)
	}
	return nil
}

func ValidateScores(scores []Score) error {
	seen := make(map[string]struct{}, len(scores))
	for _, s := range scores {
		if s.UserID == "" {
			return fmt.Errorf("%w: score without user id", ErrInvalidData)
		}
		if _, dup := seen[s.UserID]; dup {
			return fmt.Errorf("%w: duplicate score for user %s", ErrInvalidData, s.UserID)
		}
		seen[s.UserID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy so snapshots never alias live state.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Rounds = make([]Round, len(g.Rounds))
	for i := range g.Rounds {
		c.Rounds[i] = g.Rounds[i].Clone()
	}
	c.Scores = append([]Score(nil), g.Scores...)
	if c.Scores == nil {
		c.Scores = []Score{}
	}
	c.Messages = append([]Message(nil), g.Messages...)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return &c
}

func (r Round) Clone() Round {
	if r.Drawing != nil {
		d := *r.Drawing
		d.Paths = ClonePaths(r.Drawing.Paths)
		r.Drawing = &d
	}
	return r
}

func ClonePaths(paths []Path) []Path {
	if paths == nil {
		return nil
	}
	out := make([]Path, len(paths))
	for i, p := range paths {
		out[i] = p
		out[i].Points = append([]Point(nil), p.Points...)
	}
	return out
}
