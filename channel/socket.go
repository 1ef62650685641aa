package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"client/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultConnectTimeout = 20 * time.Second
	defaultPongWait       = time.Minute
	defaultPingInterval   = 25 * time.Second
	closeWriteWait        = 5 * time.Second
)

type SocketConfig struct {
	URL            string
	EmitRate       rate.Limit
	EmitBurst      int
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	Dialer         *websocket.Dialer
}

type subscription struct {
	id      uint64
	handler Handler
}

// Socket is the websocket Channel. Every emit gets a fresh UUID and waits on
// its own reply slot; pushed events are dispatched on the read goroutine in
// arrival order.
type Socket struct {
	cfg     SocketConfig
	log     zerolog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	pending  map[string]chan json.RawMessage
	handlers map[string][]subscription
	nextSub  uint64

	writeMu   sync.Mutex
	connected atomic.Bool
}

func NewSocket(cfg SocketConfig, log zerolog.Logger) *Socket {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	limit := cfg.EmitRate
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.EmitBurst
	if burst <= 0 {
		burst = 1
	}
	return &Socket{
		cfg:      cfg,
		log:      log,
		limiter:  rate.NewLimiter(limit, burst),
		now:      time.Now,
		handlers: make(map[string][]subscription),
	}
}

func (s *Socket) Connected() bool {
	return s.connected.Load()
}

func (s *Socket) Connect(ctx context.Context, token string) error {
	if s.Connected() {
		return nil
	}
	if err := CheckToken(token, s.now()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &domain.AuthError{
				Code:    domain.AuthCodeAuthFailed,
				Message: fmt.Sprintf("authentication rejected with status %d", resp.StatusCode),
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", domain.ErrConnectionTimeout, err)
		}
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		return nil
	})

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.pending = make(map[string]chan json.RawMessage)
	s.mu.Unlock()
	s.connected.Store(true)

	go s.readPump(conn)
	go s.pingLoop(conn, done)

	s.log.Info().Str("url", s.cfg.URL).Msg("socket connected")
	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(closeWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client-closed"))
	s.writeMu.Unlock()

	err := conn.Close()
	s.teardown(conn, nil)
	return err
}

func (s *Socket) Emit(ctx context.Context, event string, payload any) (Ack, error) {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.mu.Unlock()
	if conn == nil || !s.Connected() {
		return Ack{}, domain.ErrNotConnected
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Ack{}, s.ctxError(ctx, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("encode %s payload: %w", event, err)
	}

	id := uuid.NewString()
	reply := make(chan json.RawMessage, 1)
	s.mu.Lock()
	if s.pending == nil || s.done != done {
		s.mu.Unlock()
		return Ack{}, domain.ErrDisconnected
	}
	s.pending[id] = reply
	s.mu.Unlock()
	defer s.forget(id)

	if err := s.write(conn, frame{Type: frameEmit, ID: id, Event: event, Data: data}); err != nil {
		return Ack{}, fmt.Errorf("%w: %w", domain.ErrDisconnected, err)
	}

	select {
	case raw := <-reply:
		return ParseAck(raw)
	case <-done:
		return Ack{}, domain.ErrDisconnected
	case <-ctx.Done():
		return Ack{}, s.ctxError(ctx, ctx.Err())
	}
}

func (s *Socket) Subscribe(event string, h Handler) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.handlers[event] = append(s.handlers[event], subscription{id: id, handler: h})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.handlers[event]
			for i, sub := range subs {
				if sub.id == id {
					s.handlers[event] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(s.handlers[event]) == 0 {
				delete(s.handlers, event)
			}
		})
	}
}

func (s *Socket) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.teardown(conn, err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch f.Type {
		case frameAck:
			s.mu.Lock()
			reply, ok := s.pending[f.ID]
			s.mu.Unlock()
			if !ok {
				s.log.Debug().Str("id", f.ID).Msg("ack for unknown request")
				continue
			}
			select {
			case reply <- f.Data:
			default:
			}
		case frameEvent:
			s.dispatch(f.Event, f.Data)
		default:
			s.log.Debug().Str("type", f.Type).Msg("unknown frame type")
		}
	}
}

func (s *Socket) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Socket) write(conn *websocket.Conn, f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (s *Socket) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	subs := append([]subscription(nil), s.handlers[event]...)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.handler(data)
	}
}

// teardown runs once per connection: pending emits fail with
// ErrDisconnected and the disconnect pseudo-event fires.
func (s *Socket) teardown(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.pending = nil
	done := s.done
	s.done = nil
	s.mu.Unlock()

	s.connected.Store(false)
	close(done)
	conn.Close()

	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		s.log.Warn().Err(cause).Msg("socket disconnected")
	} else {
		s.log.Info().Msg("socket closed")
	}
	s.dispatch(EventDisconnect, nil)
}

func (s *Socket) forget(id string) {
	s.mu.Lock()
	if s.pending != nil {
		delete(s.pending, id)
	}
	s.mu.Unlock()
}

func (s *Socket) ctxError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrRequestTimeout, err)
	}
	return err
}
