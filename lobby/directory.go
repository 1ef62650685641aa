package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"client/auth"
	"client/channel"
	"client/domain"

	"github.com/rs/zerolog"
)

const (
	listAttempts   = 3
	listTimeout    = 5 * time.Second
	listBackoff    = time.Second
	backoffFactor  = 1.5
	requestTimeout = 10 * time.Second
)

var ErrRoomNotFound = errors.New("room-not-found")

type Option func(*Directory)

// WithSleep replaces the wait between room listing attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Directory) { d.sleep = sleep }
}

// WithAuthHandler terminates the session when the server rejects a room
// request for authentication.
func WithAuthHandler(handler auth.Handler) Option {
	return func(d *Directory) { d.classifier = auth.NewClassifier(handler, d.log) }
}

// Directory lists, creates and joins rooms and keeps a view of the public
// room list current from the server's pushes.
type Directory struct {
	ch         channel.Channel
	log        zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	classifier *auth.Classifier

	mu      sync.RWMutex
	rooms   map[string]domain.Room
	current *domain.Room
	unsubs  []func()
}

func NewDirectory(ch channel.Channel, log zerolog.Logger, opts ...Option) *Directory {
	d := &Directory{
		ch:    ch,
		log:   log.With().Str("component", "lobby").Logger(),
		sleep: sleepContext,
		rooms: map[string]domain.Room{},
	}
	d.classifier = auth.NewClassifier(nil, d.log)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Watch subscribes to room pushes. The returned func stops watching.
func (d *Directory) Watch() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unsubs = append(d.unsubs,
		d.ch.Subscribe(channel.EventRooms, d.onRooms),
		d.ch.Subscribe(channel.EventRoomCreated, d.onRoom),
		d.ch.Subscribe(channel.EventUserJoined, d.onMembership),
		d.ch.Subscribe(channel.EventUserLeft, d.onMembership),
	)
	return d.unwatch
}

func (d *Directory) unwatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
}

// Rooms returns the known rooms ordered by creation time.
func (d *Directory) Rooms() []domain.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rooms := make([]domain.Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}

// Current is the room this client created or joined last, if any.
func (d *Directory) Current() *domain.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == nil {
		return nil
	}
	r := *d.current
	return &r
}

// ListRooms fetches the room list, retrying with backoff. On failure the
// cached list is cleared.
func (d *Directory) ListRooms(ctx context.Context) ([]domain.Room, error) {
	delay := listBackoff
	var lastErr error
	for attempt := 1; attempt <= listAttempts; attempt++ {
		rooms, err := d.listOnce(ctx)
		if err == nil {
			d.replace(rooms)
			return rooms, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrNotConnected) || errors.Is(err, context.Canceled) {
			break
		}
		var authErr *domain.AuthError
		if errors.As(err, &authErr) || attempt == listAttempts {
			break
		}
		d.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("room listing failed")
		if err := d.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay = time.Duration(float64(delay) * backoffFactor)
	}
	d.replace(nil)
	return nil, lastErr
}

func (d *Directory) listOnce(ctx context.Context) ([]domain.Room, error) {
	ack, err := d.request(ctx, listTimeout, channel.RequestRooms, nil)
	if err != nil {
		return nil, err
	}
	rooms := []domain.Room{}
	if len(ack.Data) == 0 {
		return rooms, nil
	}
	if err := ack.Decode(&rooms); err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []domain.Room{}
	}
	return rooms, nil
}

func (d *Directory) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	room, err := d.roomRequest(ctx, channel.RequestRoom, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	d.upsert(room)
	return room, nil
}

// CreateRoom validates opts locally before asking the server.
func (d *Directory) CreateRoom(ctx context.Context, opts domain.CreateRoomOptions) (domain.Room, error) {
	if err := opts.Validate(); err != nil {
		return domain.Room{}, err
	}
	room, err := d.roomRequest(ctx, channel.RequestCreateRoom, opts)
	if err != nil {
		return domain.Room{}, err
	}
	d.enter(room)
	return room, nil
}

func (d *Directory) JoinRoom(ctx context.Context, opts domain.JoinRoomOptions) (domain.Room, error) {
	if opts.RoomID == "" {
		return domain.Room{}, fmt.Errorf("%w: room id is required", domain.ErrInvalidRoomInput)
	}
	room, err := d.roomRequest(ctx, channel.RequestJoinRoom, opts)
	if err != nil {
		return domain.Room{}, err
	}
	d.enter(room)
	return room, nil
}

func (d *Directory) LeaveRoom(ctx context.Context, roomID string) error {
	if _, err := d.request(ctx, requestTimeout, channel.RequestLeaveRoom, roomID); err != nil {
		return err
	}
	d.mu.Lock()
	if d.current != nil && d.current.ID == roomID {
		d.current = nil
	}
	d.mu.Unlock()
	return nil
}

func (d *Directory) roomRequest(ctx context.Context, event string, payload any) (domain.Room, error) {
	ack, err := d.request(ctx, requestTimeout, event, payload)
	if err != nil {
		return domain.Room{}, err
	}
	if len(ack.Data) == 0 || string(ack.Data) == "null" {
		return domain.Room{}, fmt.Errorf("%s: %w", event, ErrRoomNotFound)
	}
	var room domain.Room
	if err := ack.Decode(&room); err != nil {
		return domain.Room{}, fmt.Errorf("%s: %w", event, err)
	}
	return room, nil
}

func (d *Directory) request(ctx context.Context, timeout time.Duration, event string, payload any) (channel.Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ack, err := d.ch.Emit(ctx, event, payload)
	if err == nil {
		err = ack.Err()
	}
	if err == nil {
		return ack, nil
	}
	if d.classifier.Inspect(err) {
		authErr, _ := d.classifier.Classify(err)
		return ack, fmt.Errorf("%s: %w", event, authErr)
	}
	return ack, fmt.Errorf("%s: %w", event, err)
}

func (d *Directory) replace(rooms []domain.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms = make(map[string]domain.Room, len(rooms))
	for _, r := range rooms {
		d.rooms[r.ID] = r
	}
}

func (d *Directory) upsert(room domain.Room) {
	if room.ID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[room.ID] = room
	if d.current != nil && d.current.ID == room.ID {
		r := room
		d.current = &r
	}
}

func (d *Directory) enter(room domain.Room) {
	d.upsert(room)
	d.mu.Lock()
	r := room
	d.current = &r
	d.mu.Unlock()
}

func (d *Directory) onRooms(data json.RawMessage) {
	var rooms []domain.Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed room list")
		return
	}
	d.replace(rooms)
}

func (d *Directory) onRoom(data json.RawMessage) {
	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed room")
		return
	}
	d.upsert(room)
}

func (d *Directory) onMembership(data json.RawMessage) {
	var ev domain.RoomUserEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed membership update")
		return
	}
	d.log.Debug().Str("room", ev.Room.ID).Str("user", ev.UserID).Msg("room membership changed")
	d.upsert(ev.Room)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
