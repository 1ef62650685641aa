package game

import (
	"testing"
	"time"

	"client/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ActiveRoundFollowsCurrentRoundNum(t *testing.T) {
	t.Parallel()
	s := NewStore()
	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundDrawing)))
	assert.Equal(t, "r1", s.ActiveRound().ID)

	require.NoError(t, s.SetCurrentRound(2))
	assert.Equal(t, "r2", s.ActiveRound().ID)

	require.NoError(t, s.SetCurrentRound(7))
	assert.Nil(t, s.ActiveRound())
}

func TestStore_SnapshotNeverRegressesRoundStatus(t *testing.T) {
	t.Parallel()
	s := NewStore()
	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundGuessing)))

	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundDrawing)))
	assert.Equal(t, domain.RoundGuessing, s.ActiveRound().Status)

	require.NoError(t, s.ApplyRoundEvent(domain.Round{ID: "r1", GameID: "g1", RoundNumber: 1, Status: domain.RoundWaiting}))
	assert.Equal(t, domain.RoundGuessing, s.ActiveRound().Status)

	require.NoError(t, s.ApplyRoundEvent(domain.Round{ID: "r1", GameID: "g1", RoundNumber: 1, Status: domain.RoundFinished}))
	assert.Equal(t, domain.RoundFinished, s.ActiveRound().Status)

	assert.False(t, s.PromoteRound("r1", domain.RoundDrawing))
	assert.Equal(t, domain.RoundFinished, s.ActiveRound().Status)
}

func TestStore_NewGameReplacesWholesale(t *testing.T) {
	t.Parallel()
	s := NewStore()
	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundGuessing)))

	other := playingGame(domain.RoundWaiting)
	other.ID = "g2"
	for i := range other.Rounds {
		other.Rounds[i].GameID = "g2"
	}
	require.NoError(t, s.ApplyGameSnapshot(other))
	assert.Equal(t, domain.RoundWaiting, s.ActiveRound().Status)
}

func TestStore_GameStatusForwardOnlyForSameGame(t *testing.T) {
	t.Parallel()
	s := NewStore()
	finished := playingGame(domain.RoundFinished)
	finished.Status = domain.GameFinished
	require.NoError(t, s.ApplyGameSnapshot(finished))

	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundGuessing)))
	assert.Equal(t, domain.GameFinished, s.Game().Status)
}

func TestStore_PreservedDrawingSurvivesSnapshotWithout(t *testing.T) {
	t.Parallel()
	s := NewStore()
	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundDrawing)))
	drawing := &domain.Drawing{RoundID: "r1", Paths: []domain.Path{stroke(domain.Point{X: 1, Y: 1})}}
	require.NoError(t, s.ReplaceDrawing("r1", drawing))

	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundDrawing)))
	assert.Nil(t, s.ActiveRound().Drawing, "without the preserve flag the server snapshot wins")

	require.NoError(t, s.ReplaceDrawing("r1", drawing))
	s.SetPreserveDrawing(true)
	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundDrawing)))
	require.NotNil(t, s.ActiveRound().Drawing)
	assert.Empty(t, cmp.Diff(drawing.Paths, s.ActiveRound().Drawing.Paths))
}

func TestStore_RejectsMalformedInputUnchanged(t *testing.T) {
	t.Parallel()
	s := NewStore()
	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundDrawing)))
	before := s.Snapshot()

	bad := playingGame(domain.RoundGuessing)
	bad.Rounds[0].ID = ""
	assert.ErrorIs(t, s.ApplyGameSnapshot(bad), domain.ErrInvalidData)
	assert.ErrorIs(t, s.ApplyGameSnapshot(nil), domain.ErrInvalidData)
	assert.ErrorIs(t, s.AppendMessage(domain.Message{Content: "no id"}), domain.ErrInvalidData)
	assert.ErrorIs(t, s.ReplaceScores([]domain.Score{{UserID: "a"}, {UserID: "a"}}), domain.ErrInvalidData)

	assert.Empty(t, cmp.Diff(before, s.Snapshot()))
}

func TestStore_RoundEventUpsert(t *testing.T) {
	t.Parallel()
	s := NewStore()
	g := playingGame(domain.RoundDrawing)
	g.Rounds = g.Rounds[:1]
	require.NoError(t, s.ApplyGameSnapshot(g))

	require.NoError(t, s.ApplyRoundEvent(domain.Round{ID: "r3", GameID: "g1", RoundNumber: 3, Status: domain.RoundWaiting}))
	require.NoError(t, s.ApplyRoundEvent(domain.Round{ID: "r2", GameID: "g1", RoundNumber: 2, Status: domain.RoundWaiting}))

	var order []string
	for _, r := range s.Game().Rounds {
		order = append(order, r.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, order)

	err := s.ApplyRoundEvent(domain.Round{ID: "x", GameID: "other", RoundNumber: 4})
	assert.ErrorIs(t, err, domain.ErrStaleEvent)
	assert.Len(t, s.Game().Rounds, 3)
}

func TestStore_MessagesAppendScoresReplace(t *testing.T) {
	t.Parallel()
	s := NewStore()
	assert.ErrorIs(t, s.AppendMessage(domain.Message{ID: "m"}), domain.ErrNoActiveGame)

	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundGuessing)))
	m := domain.Message{ID: "m1", UserID: "bob", Content: "apple"}
	require.NoError(t, s.AppendMessage(m))
	require.NoError(t, s.AppendMessage(m))
	assert.Len(t, s.Game().Messages, 2)

	require.NoError(t, s.ReplaceScores([]domain.Score{{UserID: "bob", Score: 10}}))
	assert.Equal(t, []domain.Score{{UserID: "bob", Score: 10}}, s.Game().Scores)
}

func TestStore_HasGuessedCorrectly(t *testing.T) {
	t.Parallel()
	s := NewStore()
	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundGuessing)))
	assert.False(t, s.HasGuessedCorrectly("bob"))

	require.NoError(t, s.AppendMessage(domain.Message{ID: "old", UserID: "bob", IsCorrect: true, CreatedAt: t0.Add(-time.Minute)}))
	assert.False(t, s.HasGuessedCorrectly("bob"), "correct guesses from earlier rounds do not count")

	require.NoError(t, s.AppendMessage(domain.Message{ID: "new", UserID: "bob", IsCorrect: true, CreatedAt: t0.Add(time.Second)}))
	assert.True(t, s.HasGuessedCorrectly("bob"))

	s.MarkGuessed("r1", "carol")
	assert.True(t, s.HasGuessedCorrectly("carol"))
	assert.True(t, s.IsDrawer("alice"))
	assert.False(t, s.IsDrawer("bob"))
}

func TestStore_ChangeNotifications(t *testing.T) {
	t.Parallel()
	s := NewStore()
	var got Change
	s.OnChange(func(c Change) { got |= c })

	require.NoError(t, s.ApplyGameSnapshot(playingGame(domain.RoundDrawing)))
	assert.True(t, got.Has(ChangeGame))

	got = 0
	require.NoError(t, s.ReplaceScores(nil))
	assert.Equal(t, ChangeScores, got)

	got = 0
	s.Reset()
	assert.True(t, got.Has(ChangeGame))
	assert.Nil(t, s.Game())
}
