package game

import (
	"time"

	"client/domain"
)

const (
	DefaultRoundDuration = 60 * time.Second
	TimerTolerance       = 3 * time.Second

	activePollInterval  = 5 * time.Second
	waitingPollInterval = time.Second
)

// TimerReconciler tracks the countdown of the active round. Server pushes
// are authoritative; polled values only correct drift larger than
// TimerTolerance. Between updates the displayed value counts down locally.
type TimerReconciler struct {
	store *Store

	defaultTotal time.Duration
	total        time.Duration
	remaining    time.Duration
	observedAt   time.Time
	known        bool
	roundID      string
}

func NewTimerReconciler(store *Store, defaultTotal time.Duration) *TimerReconciler {
	if defaultTotal <= 0 {
		defaultTotal = DefaultRoundDuration
	}
	return &TimerReconciler{store: store, defaultTotal: defaultTotal, total: defaultTotal}
}

// Track resets the countdown when the active round changes.
func (t *TimerReconciler) Track(roundID string) {
	if roundID == t.roundID {
		return
	}
	t.roundID = roundID
	t.Reset()
}

func (t *TimerReconciler) Reset() {
	t.known = false
	t.remaining = 0
	t.observedAt = time.Time{}
}

// ApplyTick applies a pushed tick. desync reports that the server is
// counting down a round the store still holds as WAITING on a PLAYING game.
func (t *TimerReconciler) ApplyTick(tick domain.TimerTick, now time.Time) (applied, desync bool) {
	round := t.matchRound(tick)
	if round == nil {
		return false, false
	}
	if tick.Total > 0 {
		t.total = tick.Total
	}
	if tick.HasRemaining() {
		t.set(tick.Remaining, now)
	}
	return true, t.waitingWhilePlaying(round) && tick.Remaining > 0
}

// ApplyPoll applies a polled value when nothing is known yet or when it
// differs from the displayed value by more than TimerTolerance.
func (t *TimerReconciler) ApplyPoll(tick domain.TimerTick, now time.Time) (applied, desync bool) {
	round := t.matchRound(tick)
	if round == nil {
		return false, false
	}
	desync = t.waitingWhilePlaying(round) && tick.Remaining > 0
	if !tick.HasRemaining() {
		return false, desync
	}
	if t.known {
		drift := tick.Remaining - t.Remaining(now)
		if drift < 0 {
			drift = -drift
		}
		if drift <= TimerTolerance {
			return false, desync
		}
	}
	if tick.Total > 0 {
		t.total = tick.Total
	}
	t.set(tick.Remaining, now)
	return true, desync
}

func (t *TimerReconciler) set(remaining time.Duration, now time.Time) {
	t.remaining = remaining
	t.observedAt = now
	t.known = true
}

func (t *TimerReconciler) matchRound(tick domain.TimerTick) *domain.Round {
	game := t.store.Game()
	round := t.store.ActiveRound()
	if game == nil || round == nil || tick.RoundID != round.ID {
		return nil
	}
	if tick.GameID != "" && tick.GameID != game.ID {
		return nil
	}
	return round
}

func (t *TimerReconciler) waitingWhilePlaying(round *domain.Round) bool {
	game := t.store.Game()
	return game != nil && game.Status == domain.GamePlaying && round.Status == domain.RoundWaiting
}

// Remaining is the value to display at now. With no tick yet it is the full
// round duration.
func (t *TimerReconciler) Remaining(now time.Time) time.Duration {
	if !t.known {
		return t.Total()
	}
	left := t.remaining - now.Sub(t.observedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (t *TimerReconciler) Total() time.Duration {
	if t.total <= 0 {
		return t.defaultTotal
	}
	return t.total
}

func (t *TimerReconciler) Known() bool {
	return t.known
}

// PollInterval is how often the server should be asked for the timer, or
// zero when polling must stop.
func (t *TimerReconciler) PollInterval() time.Duration {
	game := t.store.Game()
	round := t.store.ActiveRound()
	if game == nil || round == nil {
		return 0
	}
	switch {
	case round.Status.Active():
		return activePollInterval
	case round.Status == domain.RoundWaiting && game.Status == domain.GamePlaying:
		return waitingPollInterval
	}
	return 0
}
