package game

import (
	"errors"
	"fmt"
	"time"

	"client/domain"

	"github.com/rs/zerolog"
)

// effects are the requests the reducer asks for. They run outside the loop
// and feed their results back as events.
type effects interface {
	startRound(gameID string)
	endRound(gameID string)
	requestTimer(gameID, roundID string)
	gameEnded(result domain.GameResult)
}

// engine folds events into the store and plans delayed transitions. Only
// the session loop touches it.
type engine struct {
	userID      string
	roomOwnerID string

	store   *Store
	drawing *DrawingSync
	timer   *TimerReconciler
	sched   *Scheduler
	fx      effects
	log     zerolog.Logger

	pollEvery     time.Duration
	winners       []domain.Score
	endedGameID   string
	guessEndRound string
	lastHeal      map[string]time.Time
}

func newEngine(userID, roomOwnerID string, roundDuration time.Duration, fx effects, log zerolog.Logger) *engine {
	store := NewStore()
	return &engine{
		userID:      userID,
		roomOwnerID: roomOwnerID,
		store:       store,
		drawing:     NewDrawingSync(store, userID, log),
		timer:       NewTimerReconciler(store, roundDuration),
		sched:       NewScheduler(),
		fx:          fx,
		log:         log,
		lastHeal:    make(map[string]time.Time),
	}
}

func (e *engine) handle(ev Event, now time.Time) error {
	err := e.apply(ev, now)
	e.settle(now)
	return err
}

// advance fires the scheduled tasks due at now.
func (e *engine) advance(now time.Time) {
	e.sched.RunDue(now)
	e.settle(now)
}

func (e *engine) settle(now time.Time) {
	e.reconcile(now)
	e.sched.RunDue(now)
}

func (e *engine) apply(ev Event, now time.Time) error {
	switch ev := ev.(type) {
	case GameStartedEvent:
		return e.onGameStarted(ev.Game, now)
	case GameStateEvent:
		if err := e.loadGame(ev.Game); err != nil {
			return err
		}
		if ev.AfterEndRound {
			e.planPendingStart(now, autoStartDelay)
		}
		return nil
	case GameEndedEvent:
		return e.onGameEnded(ev.Game)
	case RoundStartedEvent:
		return e.onRoundStarted(ev.RoundStarted)
	case RoundEndedEvent:
		return e.onRoundEnded(ev.RoundEnded, now)
	case MessageEvent:
		return e.store.AppendMessage(ev.Message)
	case CorrectGuessEvent:
		r := e.store.ActiveRound()
		if r == nil {
			return domain.ErrNoActiveRound
		}
		e.store.MarkGuessed(r.ID, ev.UserID)
		return nil
	case ScoresEvent:
		return e.store.ReplaceScores(ev.Scores)
	case TimerEvent:
		return e.onTimer(ev, now)
	case DrawingEvent:
		return e.drawing.ApplyRemote(ev.Update)
	case ErrorEvent:
		return ev.Err
	case DisconnectEvent:
		e.reset()
		e.store.notify(ChangeConnection)
		return nil
	case execEvent:
		return ev.fn(e, now)
	}
	return fmt.Errorf("unhandled event %T", ev)
}

func (e *engine) loadGame(g *domain.Game) error {
	prev := e.store.Game()
	if err := e.store.ApplyGameSnapshot(g); err != nil {
		return err
	}
	if prev == nil || prev.ID != g.ID {
		e.winners = nil
		e.guessEndRound = ""
		e.lastHeal = make(map[string]time.Time)
	}
	return nil
}

func (e *engine) onTimer(ev TimerEvent, now time.Time) error {
	active := e.store.ActiveRound()
	if active == nil || ev.Tick.RoundID != active.ID {
		return fmt.Errorf("%w: timer for round %s", domain.ErrStaleEvent, ev.Tick.RoundID)
	}

	var applied, desync bool
	if ev.Polled {
		applied, desync = e.timer.ApplyPoll(ev.Tick, now)
	} else {
		applied, desync = e.timer.ApplyTick(ev.Tick, now)
	}
	if applied {
		e.store.notify(ChangeTimer)
	}
	if desync {
		e.heal(now)
	}
	return nil
}

// heal fixes a round the server is already timing while the store still
// holds it as WAITING. The drawer or the room owner also asks the server to
// start it, at most once per healInterval.
func (e *engine) heal(now time.Time) {
	game, round := e.store.Game(), e.store.ActiveRound()
	if game == nil || round == nil || round.Status != domain.RoundWaiting {
		return
	}
	e.log.Info().Str("round", round.ID).Msg("round is running on the server, promoting to DRAWING")
	e.store.PromoteRound(round.ID, domain.RoundDrawing)

	if !e.canControl() {
		return
	}
	if last, ok := e.lastHeal[round.ID]; ok && now.Sub(last) < healInterval {
		return
	}
	e.lastHeal[round.ID] = now
	e.fx.startRound(game.ID)
}

// canControl reports whether the local user may drive round transitions.
func (e *engine) canControl() bool {
	if e.store.IsDrawer(e.userID) {
		return true
	}
	return e.roomOwnerID != "" && e.userID == e.roomOwnerID
}

func (e *engine) reconcile(now time.Time) {
	if e.drawing.SyncRound() {
		id := ""
		if r := e.store.ActiveRound(); r != nil {
			id = r.ID
		}
		e.timer.Track(id)
		e.store.notify(ChangeDrawing | ChangeTimer)
	}
	e.planCorrectGuessEnd(now)
	e.planPoll(now)
	e.detectGameEnd(now)
}

func (e *engine) planPoll(now time.Time) {
	every := e.timer.PollInterval()
	if every == 0 {
		e.sched.Cancel(pollKey)
		e.pollEvery = 0
		return
	}
	if every == e.pollEvery && e.sched.Pending(pollKey) {
		return
	}
	e.pollEvery = every
	e.sched.Reschedule(pollKey, now, nil, e.poll)
}

func (e *engine) poll(now time.Time) {
	game, round := e.store.Game(), e.store.ActiveRound()
	if game == nil || round == nil || e.pollEvery == 0 {
		return
	}
	e.fx.requestTimer(game.ID, round.ID)
	e.sched.Schedule(pollKey, now.Add(e.pollEvery), nil, e.poll)
}

// clear drops the current game context ahead of a new one.
func (e *engine) clear() {
	e.sched.Clear()
	e.store.Reset()
	e.timer.Reset()
	e.pollEvery = 0
	e.guessEndRound = ""
	e.winners = nil
	e.lastHeal = make(map[string]time.Time)
}

func (e *engine) reset() {
	e.clear()
	e.endedGameID = ""
	e.timer.Track("")
	e.drawing.SyncRound()
}

// isStale reports errors that only mean an event arrived for a context the
// client has already left.
func isStale(err error) bool {
	return errors.Is(err, domain.ErrStaleEvent)
}
