package game

import (
	"fmt"

	"client/domain"

	"github.com/rs/zerolog"
)

// DrawingSync replicates the canvas of the active round. The drawer authors
// full snapshots; everybody else replaces their canvas with whatever the
// server relays.
type DrawingSync struct {
	store   *Store
	userID  string
	log     zerolog.Logger
	roundID string
}

func NewDrawingSync(store *Store, userID string, log zerolog.Logger) *DrawingSync {
	return &DrawingSync{store: store, userID: userID, log: log}
}

func (d *DrawingSync) IsAuthor() bool {
	return d.store.IsDrawer(d.userID)
}

// Canvas returns a copy of the active round's paths.
func (d *DrawingSync) Canvas() []domain.Path {
	r := d.store.ActiveRound()
	if r == nil || r.Drawing == nil {
		return []domain.Path{}
	}
	return domain.ClonePaths(r.Drawing.Paths)
}

// SyncRound notices a change of active round. The previous round's canvas
// is dropped from view and the local preserve flag is lowered. Reports
// whether the round changed.
func (d *DrawingSync) SyncRound() bool {
	id := ""
	if r := d.store.ActiveRound(); r != nil {
		id = r.ID
	}
	if id == d.roundID {
		return false
	}
	d.log.Debug().Str("from", d.roundID).Str("to", id).Msg("active round changed, canvas cleared")
	d.roundID = id
	d.store.SetPreserveDrawing(false)
	return true
}

// PrepareSnapshot validates a local stroke, tags the last path with its
// mode and applies the snapshot locally. transitional is set when the round
// is still WAITING on a PLAYING game: the caller starts the round before
// sending.
func (d *DrawingSync) PrepareSnapshot(paths []domain.Path, erase bool) (update domain.DrawingUpdate, transitional bool, err error) {
	game := d.store.Game()
	if game == nil {
		return update, false, domain.ErrNoActiveGame
	}
	round := d.store.ActiveRound()
	if round == nil {
		return update, false, domain.ErrNoActiveRound
	}
	if !d.IsAuthor() {
		return update, false, domain.ErrNotDrawer
	}
	if game.Status != domain.GamePlaying {
		return update, false, fmt.Errorf("%w: game is %s", domain.ErrGameNotPlaying, game.Status)
	}
	switch {
	case round.Status.Active():
	case round.Status == domain.RoundWaiting:
		transitional = true
	default:
		return update, false, fmt.Errorf("%w: round is %s", domain.ErrRoundNotDrawable, round.Status)
	}

	snapshot := domain.ClonePaths(paths)
	if snapshot == nil {
		snapshot = []domain.Path{}
	}
	if n := len(snapshot); n > 0 {
		snapshot[n-1].DrawMode = !erase
	}

	if err := d.store.ReplaceDrawing(round.ID, &domain.Drawing{RoundID: round.ID, UserID: d.userID, Paths: snapshot}); err != nil {
		return update, false, err
	}
	d.store.SetPreserveDrawing(true)

	return domain.DrawingUpdate{GameID: game.ID, RoundID: round.ID, Paths: domain.ClonePaths(snapshot)}, transitional, nil
}

// ApplyRemote replaces the canvas with a relayed snapshot. Updates for any
// other game or round are stale; the author ignores echoes of its own
// strokes.
func (d *DrawingSync) ApplyRemote(u domain.DrawingUpdate) error {
	game := d.store.Game()
	round := d.store.ActiveRound()
	if game == nil || round == nil || u.GameID != game.ID || u.RoundID != round.ID {
		d.log.Debug().Str("game", u.GameID).Str("round", u.RoundID).Msg("dropping drawing for inactive round")
		return fmt.Errorf("%w: drawing for round %s", domain.ErrStaleEvent, u.RoundID)
	}
	if d.IsAuthor() {
		return nil
	}
	paths := u.Paths
	if paths == nil {
		paths = []domain.Path{}
	}
	return d.store.ReplaceDrawing(round.ID, &domain.Drawing{RoundID: round.ID, Paths: paths})
}

// Clear empties the active round's canvas and returns the empty snapshot to
// relay.
func (d *DrawingSync) Clear() (domain.DrawingUpdate, error) {
	game := d.store.Game()
	if game == nil {
		return domain.DrawingUpdate{}, domain.ErrNoActiveGame
	}
	round := d.store.ActiveRound()
	if round == nil {
		return domain.DrawingUpdate{}, domain.ErrNoActiveRound
	}
	if err := d.store.ReplaceDrawing(round.ID, nil); err != nil {
		return domain.DrawingUpdate{}, err
	}
	d.store.SetPreserveDrawing(false)
	return domain.DrawingUpdate{GameID: game.ID, RoundID: round.ID, Paths: []domain.Path{}}, nil
}
