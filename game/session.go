package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"client/auth"
	"client/channel"
	"client/domain"

	"github.com/rs/zerolog"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	inboxSize             = 256
	subscriberBuffer      = 16
)

var ErrSessionClosed = errors.New("session-closed")

// ResultRecorder archives finished games.
type ResultRecorder interface {
	RecordGameResult(ctx context.Context, result domain.GameResult) error
}

type Options struct {
	UserID         string
	RoomID         string
	RoomOwnerID    string
	RoundDuration  time.Duration
	RequestTimeout time.Duration
	Clock          Clock
	Logger         zerolog.Logger
	// OnAuthError is told about authentication failures before the session
	// closes itself.
	OnAuthError     auth.Handler
	IsAuthenticated func() bool
	Recorder        ResultRecorder
}

// Snapshot is an immutable view of the session for the presentation layer.
// Readers must not modify the Game it points to.
type Snapshot struct {
	Version          uint64         `json:"version"`
	Connected        bool           `json:"connected"`
	Game             *domain.Game   `json:"game"`
	Round            *domain.Round  `json:"round"`
	IsDrawer         bool           `json:"isDrawer"`
	HasGuessed       bool           `json:"hasGuessed"`
	Hint             string         `json:"hint"`
	RemainingSeconds int            `json:"remainingSeconds"`
	TotalSeconds     int            `json:"totalSeconds"`
	Canvas           []domain.Path  `json:"canvas"`
	Winners          []domain.Score `json:"winners"`

	remaining time.Duration
	total     time.Duration
	ticking   bool
	takenAt   time.Time
	word      string
}

type envelope struct {
	ev   Event
	done chan error
}

// Session is one authenticated client attached to a room. A single loop
// goroutine owns all game state; pushes and request results reach it
// through the inbox.
type Session struct {
	ch         channel.Channel
	opts       Options
	log        zerolog.Logger
	clock      Clock
	classifier *auth.Classifier
	engine     *engine

	inbox   chan envelope
	stop    chan struct{}
	stopped chan struct{}
	running atomic.Bool

	mu        sync.Mutex
	unsubs    []func()
	closeOnce sync.Once

	connected atomic.Bool
	snapshot  atomic.Pointer[Snapshot]
	version   uint64
	pending   Change

	subsMu      sync.Mutex
	subscribers map[uint64]chan Change
	nextSub     uint64
}

func NewSession(ch channel.Channel, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.RoundDuration <= 0 {
		opts.RoundDuration = DefaultRoundDuration
	}
	log := opts.Logger.With().Str("component", "session").Str("user", opts.UserID).Logger()

	s := &Session{
		ch:          ch,
		opts:        opts,
		log:         log,
		clock:       opts.Clock,
		inbox:       make(chan envelope, inboxSize),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		subscribers: make(map[uint64]chan Change),
	}
	s.classifier = auth.NewClassifier(s.onAuthError, log)
	s.engine = newEngine(opts.UserID, opts.RoomOwnerID, opts.RoundDuration, (*sessionEffects)(s), log)
	s.engine.store.OnChange(func(c Change) { s.pending |= c })
	s.snapshot.Store(&Snapshot{Canvas: []domain.Path{}, Winners: []domain.Score{}})
	return s
}

// Open connects the channel, starts the loop and loads the room's game.
// A failed initial load is logged, the session stays open. After a
// transport disconnect the loop keeps running and Open redials the channel
// and reloads the room.
func (s *Session) Open(ctx context.Context, token string) error {
	if s.opts.IsAuthenticated != nil && !s.opts.IsAuthenticated() {
		return domain.ErrNotAuthenticated
	}
	select {
	case <-s.stop:
		return ErrSessionClosed
	default:
	}
	if s.running.Load() {
		if s.connected.Load() {
			return nil
		}
		if err := s.ch.Connect(ctx, token); err != nil {
			s.classifier.Inspect(err)
			return fmt.Errorf("reconnect: %w", err)
		}
		s.online(ctx)
		return nil
	}

	s.mu.Lock()
	for _, name := range pushEvents {
		name := name
		s.unsubs = append(s.unsubs, s.ch.Subscribe(name, func(data json.RawMessage) {
			s.onPush(name, data)
		}))
	}
	s.mu.Unlock()

	if err := s.ch.Connect(ctx, token); err != nil {
		s.unsubscribe()
		s.classifier.Inspect(err)
		return fmt.Errorf("connect: %w", err)
	}

	started := make(chan struct{})
	s.running.Store(true)
	go s.run(started)
	<-started

	s.online(ctx)
	return nil
}

// online marks the channel connected and loads the configured room.
func (s *Session) online(ctx context.Context) {
	s.connected.Store(true)
	err := s.exec(ctx, func(e *engine, _ time.Time) error {
		e.store.notify(ChangeConnection)
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("connection change not published")
	}

	if s.opts.RoomID != "" {
		if _, err := s.GetGameState(ctx, s.opts.RoomID); err != nil {
			s.log.Warn().Err(err).Str("room", s.opts.RoomID).Msg("initial game state unavailable")
		}
	}
}

// Close disconnects and discards all state. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.unsubscribe()
		err = s.ch.Close()
		s.connected.Store(false)
		close(s.stop)
		if s.running.Load() {
			<-s.stopped
		}
		s.snapshot.Store(&Snapshot{Version: s.version + 1, Canvas: []domain.Path{}, Winners: []domain.Score{}})
		s.subsMu.Lock()
		for id, sub := range s.subscribers {
			close(sub)
			delete(s.subscribers, id)
		}
		s.subsMu.Unlock()
		s.log.Info().Msg("session closed")
	})
	return err
}

// Subscribe returns a stream of change notifications. Notifications are
// dropped for a slow reader; Snapshot always has the latest state.
func (s *Session) Subscribe() (<-chan Change, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.nextSub++
	id := s.nextSub
	ch := make(chan Change, subscriberBuffer)
	s.subscribers[id] = ch
	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			close(sub)
			delete(s.subscribers, id)
		}
	}
}

// Snapshot returns the current view with the countdown and the word hint
// evaluated at the time of the call.
func (s *Session) Snapshot() Snapshot {
	snap := *s.snapshot.Load()
	remaining := snap.remaining
	if snap.ticking {
		remaining -= s.clock.Now().Sub(snap.takenAt)
		if remaining < 0 {
			remaining = 0
		}
	}
	snap.RemainingSeconds = int(math.Ceil(remaining.Seconds()))
	snap.TotalSeconds = int(math.Ceil(snap.total.Seconds()))
	if snap.word != "" {
		if snap.IsDrawer {
			snap.Hint = snap.word
		} else {
			snap.Hint = MaskWord(snap.word, snap.total, remaining)
		}
	}
	return snap
}

func (s *Session) SendMessage(ctx context.Context, gameID, content string) (domain.GuessResult, error) {
	ack, err := s.request(ctx, channel.RequestSendMessage, map[string]string{"gameId": gameID, "content": content})
	if err != nil {
		return domain.GuessResult{}, err
	}
	var result domain.GuessResult
	if err := ack.DecodeRaw(&result); err != nil {
		return domain.GuessResult{}, err
	}
	return result, nil
}

// StrokeCompleted publishes the drawer's full canvas after a stroke. erase
// tags the last path as an erase stroke. On a round the server has not
// started yet the round is started first.
func (s *Session) StrokeCompleted(ctx context.Context, paths []domain.Path, erase bool) error {
	var (
		update       domain.DrawingUpdate
		transitional bool
	)
	if err := s.exec(ctx, func(e *engine, _ time.Time) error {
		var err error
		update, transitional, err = e.drawing.PrepareSnapshot(paths, erase)
		return err
	}); err != nil {
		return err
	}

	if transitional {
		s.log.Info().Str("round", update.RoundID).Msg("drawing on a waiting round, starting it first")
		if _, err := s.StartRound(ctx, update.GameID); err != nil {
			return fmt.Errorf("start round before drawing: %w", err)
		}
	}

	ack, err := s.request(ctx, channel.RequestDrawing, update)
	if err != nil {
		return err
	}
	var reply struct {
		Success *bool `json:"success"`
	}
	if err := ack.DecodeRaw(&reply); err != nil {
		return err
	}
	if reply.Success != nil && !*reply.Success {
		return &domain.ServerError{Message: "drawing update rejected"}
	}
	return nil
}

func (s *Session) RequestTimerState(ctx context.Context, gameID, roundID string) (domain.TimerTick, error) {
	ack, err := s.request(ctx, channel.RequestTimerState, map[string]string{"gameId": gameID, "roundId": roundID})
	if err != nil {
		return domain.TimerTick{}, err
	}
	var tick domain.TimerTick
	if err := ack.Decode(&tick); err != nil {
		return domain.TimerTick{}, err
	}
	if err := s.dispatch(ctx, TimerEvent{Tick: tick, Polled: true}); err != nil && !isStale(err) {
		return tick, err
	}
	return tick, nil
}

func (s *Session) request(ctx context.Context, event string, payload any) (channel.Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	ack, err := s.ch.Emit(ctx, event, payload)
	if err == nil {
		err = ack.Err()
	}
	if err != nil {
		s.classifier.Inspect(err)
		return ack, fmt.Errorf("%s: %w", event, err)
	}
	return ack, nil
}

func (s *Session) exec(ctx context.Context, fn func(e *engine, now time.Time) error) error {
	return s.dispatch(ctx, execEvent{fn: fn})
}

// dispatch hands ev to the loop and waits until it has been applied.
func (s *Session) dispatch(ctx context.Context, ev Event) error {
	if !s.running.Load() {
		return domain.ErrNotConnected
	}
	done := make(chan error, 1)
	select {
	case s.inbox <- envelope{ev: ev, done: done}:
	case <-s.stop:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-s.stopped:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(ev Event) {
	select {
	case s.inbox <- envelope{ev: ev}:
	case <-s.stop:
	}
}

func (s *Session) onPush(name string, data json.RawMessage) {
	ev, err := DecodePush(name, data)
	if err != nil {
		s.log.Warn().Err(err).Str("event", name).Msg("dropping malformed push")
		return
	}
	if _, ok := ev.(DisconnectEvent); ok {
		s.connected.Store(false)
	}
	s.post(ev)
}

func (s *Session) run(started chan struct{}) {
	defer close(s.stopped)
	close(started)

	for {
		var fire <-chan time.Time
		if next, ok := s.engine.sched.Next(); ok {
			fire = s.clock.After(next.Sub(s.clock.Now()))
		}

		select {
		case <-s.stop:
			return
		case env := <-s.inbox:
			err := s.engine.handle(env.ev, s.clock.Now())
			if env.done == nil {
				s.report(env.ev, err)
			}
			s.refresh()
			if env.done != nil {
				env.done <- err
			}
		case <-fire:
			s.engine.advance(s.clock.Now())
			s.refresh()
		}
	}
}

func (s *Session) report(ev Event, err error) {
	if err == nil {
		return
	}
	// Only server rejections are checked for auth failures.
	if _, ok := ev.(ErrorEvent); ok && s.classifier.Inspect(err) {
		return
	}
	if isStale(err) {
		s.log.Debug().Err(err).Str("event", fmt.Sprintf("%T", ev)).Msg("ignored stale event")
		return
	}
	s.log.Warn().Err(err).Str("event", fmt.Sprintf("%T", ev)).Msg("event not applied")
}

// refresh publishes a new snapshot when the last event changed anything.
func (s *Session) refresh() {
	if s.pending == 0 {
		return
	}
	changes := s.pending
	s.pending = 0
	s.version++

	e := s.engine
	now := s.clock.Now()
	snap := &Snapshot{
		Version:   s.version,
		Connected: s.connected.Load(),
		Game:      e.store.Snapshot(),
		IsDrawer:  e.store.IsDrawer(s.opts.UserID),
		Canvas:    e.drawing.Canvas(),
		Winners:   append([]domain.Score{}, e.winners...),
		remaining: e.timer.Remaining(now),
		total:     e.timer.Total(),
		takenAt:   now,
	}
	if r := e.store.ActiveRound(); r != nil {
		round := r.Clone()
		snap.Round = &round
		snap.word = round.Word
		snap.HasGuessed = e.store.HasGuessedCorrectly(s.opts.UserID)
		snap.ticking = e.timer.Known() && round.Status.Active()
	}
	s.snapshot.Store(snap)

	s.subsMu.Lock()
	for _, sub := range s.subscribers {
		select {
		case sub <- changes:
		default:
		}
	}
	s.subsMu.Unlock()
}

func (s *Session) onAuthError(err *domain.AuthError) {
	if s.opts.OnAuthError != nil {
		s.opts.OnAuthError(err)
	}
	go s.Close()
}

func (s *Session) unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// sessionEffects runs the reducer's requests off the loop.
type sessionEffects Session

func (fx *sessionEffects) session() *Session {
	return (*Session)(fx)
}

func (fx *sessionEffects) startRound(gameID string) {
	s := fx.session()
	go func() {
		if _, err := s.StartRound(context.Background(), gameID); err != nil {
			s.log.Warn().Err(err).Str("game", gameID).Msg("automatic round start failed")
		}
	}()
}

func (fx *sessionEffects) endRound(gameID string) {
	s := fx.session()
	go func() {
		if _, err := s.EndRound(context.Background(), gameID); err != nil {
			s.log.Warn().Err(err).Str("game", gameID).Msg("automatic round end failed")
		}
	}()
}

func (fx *sessionEffects) requestTimer(gameID, roundID string) {
	s := fx.session()
	go func() {
		if _, err := s.RequestTimerState(context.Background(), gameID, roundID); err != nil {
			s.log.Debug().Err(err).Str("game", gameID).Msg("timer poll failed")
		}
	}()
}

func (fx *sessionEffects) gameEnded(result domain.GameResult) {
	s := fx.session()
	s.log.Info().Str("game", result.GameID).Int("winners", len(result.Winners)).Msg("game finished")
	if s.opts.Recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		defer cancel()
		if err := s.opts.Recorder.RecordGameResult(ctx, result); err != nil {
			s.log.Error().Err(err).Str("game", result.GameID).Msg("failed to archive game result")
		}
	}()
}
