package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"client/channel"
	"client/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Channel ---

type MockChannel struct {
	mock.Mock

	hmu      sync.Mutex
	handlers map[string][]channel.Handler
	emits    []string
}

func NewMockChannel() *MockChannel {
	return &MockChannel{handlers: make(map[string][]channel.Handler)}
}

func (m *MockChannel) Connect(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockChannel) Emit(ctx context.Context, event string, payload any) (channel.Ack, error) {
	m.hmu.Lock()
	m.emits = append(m.emits, event)
	m.hmu.Unlock()
	args := m.Called(ctx, event, payload)
	return args.Get(0).(channel.Ack), args.Error(1)
}

func (m *MockChannel) Subscribe(event string, h channel.Handler) func() {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
	idx := len(m.handlers[event]) - 1
	return func() {
		m.hmu.Lock()
		defer m.hmu.Unlock()
		if idx < len(m.handlers[event]) {
			m.handlers[event][idx] = nil
		}
	}
}

func (m *MockChannel) Connected() bool {
	return true
}

// Push delivers a server event to the subscribed handlers.
func (m *MockChannel) Push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	m.hmu.Lock()
	handlers := append([]channel.Handler(nil), m.handlers[event]...)
	m.hmu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(data)
		}
	}
}

func (m *MockChannel) Subscribed(event string) int {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	n := 0
	for _, h := range m.handlers[event] {
		if h != nil {
			n++
		}
	}
	return n
}

// Emitted lists the requests sent so far, in order.
func (m *MockChannel) Emitted() []string {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	return append([]string(nil), m.emits...)
}

func ackOf(t *testing.T, envelope any) channel.Ack {
	t.Helper()
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)
	ack, err := channel.ParseAck(raw)
	require.NoError(t, err)
	return ack
}

func gameAck(t *testing.T, g *domain.Game) channel.Ack {
	t.Helper()
	return ackOf(t, map[string]any{"data": g})
}

// --- Clock ---

type waiter struct {
	at time.Time
	ch chan time.Time
}

type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.at.After(c.now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = kept
}

// --- effects ---

type recordingEffects struct {
	started []string
	ended   []string
	polled  []string
	results []domain.GameResult
}

func (r *recordingEffects) startRound(gameID string) { r.started = append(r.started, gameID) }
func (r *recordingEffects) endRound(gameID string)   { r.ended = append(r.ended, gameID) }
func (r *recordingEffects) requestTimer(gameID, roundID string) {
	r.polled = append(r.polled, roundID)
}
func (r *recordingEffects) gameEnded(result domain.GameResult) {
	r.results = append(r.results, result)
}

// --- fixtures ---

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(userID, ownerID string) (*engine, *recordingEffects) {
	fx := &recordingEffects{}
	return newEngine(userID, ownerID, DefaultRoundDuration, fx, zerolog.Nop()), fx
}

// playingGame is a PLAYING game on round 1 drawn by alice, with round 2
// waiting for bob.
func playingGame(status domain.RoundStatus) *domain.Game {
	return &domain.Game{
		ID:              "g1",
		RoomID:          "room1",
		CurrentRoundNum: 1,
		Status:          domain.GamePlaying,
		StartedAt:       t0,
		Rounds: []domain.Round{
			{ID: "r1", GameID: "g1", RoundNumber: 1, Word: "banana", DrawerID: "alice", Status: status, StartedAt: t0},
			{ID: "r2", GameID: "g1", RoundNumber: 2, Word: "house", DrawerID: "bob", Status: domain.RoundWaiting},
		},
		Scores: []domain.Score{
			{ID: "s1", GameID: "g1", UserID: "alice"},
			{ID: "s2", GameID: "g1", UserID: "bob"},
		},
		Messages: []domain.Message{},
	}
}

func stroke(points ...domain.Point) domain.Path {
	return domain.Path{DrawMode: true, StrokeColor: "#000000", StrokeWidth: 4, Points: points}
}
