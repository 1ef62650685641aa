package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"client/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	conn     *websocket.Conn
	received []frame
	ready    chan struct{}
	reply    func(f frame) (json.RawMessage, bool)
}

func newFakeServer(t *testing.T, reply func(f frame) (json.RawMessage, bool)) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, reply: reply, ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken(t) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conn = conn
		fs.mu.Unlock()
		close(fs.ready)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			fs.mu.Lock()
			fs.received = append(fs.received, f)
			fs.mu.Unlock()
			if data, ok := fs.reply(f); ok {
				fs.mu.Lock()
				conn.WriteJSON(frame{Type: frameAck, ID: f.ID, Data: data})
				fs.mu.Unlock()
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) push(event string, data string) {
	<-fs.ready
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NoError(fs.t, fs.conn.WriteJSON(frame{Type: frameEvent, Event: event, Data: json.RawMessage(data)}))
}

func (fs *fakeServer) drop() {
	<-fs.ready
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.conn.Close()
}

var tokenOnce sync.Once
var sharedToken string

func testToken(t *testing.T) string {
	tokenOnce.Do(func() {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u1",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("secret"))
		if err != nil {
			t.Fatal(err)
		}
		sharedToken = tok
	})
	return sharedToken
}

func connect(t *testing.T, fs *fakeServer) *Socket {
	t.Helper()
	s := NewSocket(SocketConfig{URL: fs.url(), EmitRate: 100, EmitBurst: 10}, zerolog.Nop())
	require.NoError(t, s.Connect(context.Background(), testToken(t)))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSocket_EmitResolvesWithAck(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, func(f frame) (json.RawMessage, bool) {
		return json.RawMessage(`{"data":{"id":"g1","roomId":"room"}}`), true
	})
	s := connect(t, fs)
	assert.True(t, s.Connected())

	ack, err := s.Emit(context.Background(), RequestGameState, map[string]string{"roomId": "room"})
	require.NoError(t, err)
	require.NoError(t, ack.Err())

	var game domain.Game
	require.NoError(t, ack.Decode(&game))
	assert.Equal(t, "g1", game.ID)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.received, 1)
	assert.Equal(t, frameEmit, fs.received[0].Type)
	assert.Equal(t, RequestGameState, fs.received[0].Event)
	assert.NotEmpty(t, fs.received[0].ID)
	assert.JSONEq(t, `{"roomId":"room"}`, string(fs.received[0].Data))
}

func TestSocket_ErrorEnvelopeBecomesServerError(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, func(f frame) (json.RawMessage, bool) {
		return json.RawMessage(`{"error":"Game already in progress","gameId":"g9"}`), true
	})
	s := connect(t, fs)

	ack, err := s.Emit(context.Background(), RequestStartGame, map[string]string{"roomId": "room"})
	require.NoError(t, err)

	var serverErr *domain.ServerError
	require.ErrorAs(t, ack.Err(), &serverErr)
	assert.True(t, serverErr.AlreadyInProgress())
	assert.Equal(t, "g9", serverErr.GameID)
}

func TestSocket_NullAckIsFormatError(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, func(f frame) (json.RawMessage, bool) {
		return json.RawMessage(`null`), true
	})
	s := connect(t, fs)

	_, err := s.Emit(context.Background(), RequestTimerState, map[string]string{"gameId": "g"})
	assert.ErrorIs(t, err, domain.ErrResponseFormat)
}

func TestSocket_EmitTimesOutWithoutAck(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, func(f frame) (json.RawMessage, bool) { return nil, false })
	s := connect(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Emit(ctx, RequestStartRound, map[string]string{"gameId": "g"})
	assert.ErrorIs(t, err, domain.ErrRequestTimeout)
}

func TestSocket_PushEventsDispatchInOrder(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, func(f frame) (json.RawMessage, bool) { return nil, false })
	s := connect(t, fs)

	got := make(chan string, 4)
	unsub := s.Subscribe(EventMessage, func(data json.RawMessage) {
		var m domain.Message
		json.Unmarshal(data, &m)
		got <- m.ID
	})

	fs.push(EventMessage, `{"id":"m1"}`)
	fs.push(EventMessage, `{"id":"m2"}`)
	assert.Equal(t, "m1", <-got)
	assert.Equal(t, "m2", <-got)

	unsub()
	unsub()
	fs.push(EventMessage, `{"id":"m3"}`)
	select {
	case id := <-got:
		t.Fatalf("unsubscribed handler received %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocket_DropFailsPendingAndFiresDisconnect(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, func(f frame) (json.RawMessage, bool) { return nil, false })
	s := connect(t, fs)

	disconnected := make(chan struct{})
	s.Subscribe(EventDisconnect, func(json.RawMessage) { close(disconnected) })

	errs := make(chan error, 1)
	go func() {
		_, err := s.Emit(context.Background(), RequestStartRound, map[string]string{"gameId": "g"})
		errs <- err
	}()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.received) == 1
	}, time.Second, 10*time.Millisecond)
	fs.drop()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect event not fired")
	}
	assert.ErrorIs(t, <-errs, domain.ErrDisconnected)
	assert.False(t, s.Connected())

	_, err := s.Emit(context.Background(), RequestStartRound, nil)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSocket_RejectedHandshakeIsAuthError(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, func(f frame) (json.RawMessage, bool) { return nil, false })
	s := NewSocket(SocketConfig{URL: fs.url()}, zerolog.Nop())

	err := s.Connect(context.Background(), "opaque-but-wrong")
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthCodeAuthFailed, authErr.Code)
	assert.False(t, s.Connected())
}

func TestSocket_EmitBeforeConnect(t *testing.T) {
	t.Parallel()
	s := NewSocket(SocketConfig{URL: "ws://127.0.0.1:1"}, zerolog.Nop())
	_, err := s.Emit(context.Background(), RequestRooms, nil)
	assert.True(t, errors.Is(err, domain.ErrNotConnected))
	assert.NoError(t, s.Close())
}
