package domain

import (
	"encoding/json"
	"time"
)

type RoundStarted struct {
	GameID      string `json:"gameId"`
	RoundNumber int    `json:"roundNumber"`
	Round       Round  `json:"round"`
}

type RoundEnded struct {
	GameID      string `json:"gameId"`
	RoundNumber int    `json:"roundNumber"`
	NextRound   *Round `json:"nextRound,omitempty"`
}

type CorrectGuess struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Word     string `json:"word"`
}

type DrawingUpdate struct {
	GameID  string `json:"gameId"`
	RoundID string `json:"roundId"`
	Paths   []Path `json:"paths"`
}

// TimerTick uses the server units on the wire: remainingTime in
// milliseconds, totalTime in seconds.
type TimerTick struct {
	GameID    string
	RoundID   string
	Remaining time.Duration
	Total     time.Duration
}

type timerTickWire struct {
	GameID        string   `json:"gameId"`
	RoundID       string   `json:"roundId"`
	RemainingTime *float64 `json:"remainingTime"`
	TotalTime     float64  `json:"totalTime"`
}

func (t *TimerTick) UnmarshalJSON(data []byte) error {
	var w timerTickWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.GameID = w.GameID
	t.RoundID = w.RoundID
	t.Total = time.Duration(w.TotalTime * float64(time.Second))
	t.Remaining = -1
	if w.RemainingTime != nil {
		t.Remaining = time.Duration(*w.RemainingTime * float64(time.Millisecond))
	}
	return nil
}

func (t TimerTick) MarshalJSON() ([]byte, error) {
	remaining := float64(t.Remaining.Milliseconds())
	return json.Marshal(timerTickWire{
		GameID:        t.GameID,
		RoundID:       t.RoundID,
		RemainingTime: &remaining,
		TotalTime:     t.Total.Seconds(),
	})
}

// HasRemaining is false when the server sent a null remaining time.
func (t TimerTick) HasRemaining() bool {
	return t.Remaining >= 0
}

type GuessResult struct {
	IsCorrect bool    `json:"isCorrect"`
	Message   Message `json:"message"`
}

type GameResult struct {
	GameID  string    `json:"gameId"`
	RoomID  string    `json:"roomId"`
	EndedAt time.Time `json:"endedAt"`
	Winners []Score   `json:"winners"`
	Scores  []Score   `json:"scores"`
}

// Winners returns every score tied at the maximum, in input order.
func Winners(scores []Score) []Score {
	if len(scores) == 0 {
		return []Score{}
	}
	best := scores[0].Score
	for _, s := range scores[1:] {
		if s.Score > best {
			best = s.Score
		}
	}
	winners := make([]Score, 0, 1)
	for _, s := range scores {
		if s.Score == best {
			winners = append(winners, s)
		}
	}
	return winners
}
