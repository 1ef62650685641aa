package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"client/domain"
	"client/game"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type GameSession interface {
	Snapshot() game.Snapshot
	Subscribe() (<-chan game.Change, func())
	StartGame(ctx context.Context, roomID string) (*domain.Game, error)
	StartRound(ctx context.Context, gameID string) (*domain.Game, error)
	EndRound(ctx context.Context, gameID string) (*domain.Game, error)
	SendMessage(ctx context.Context, gameID, content string) (domain.GuessResult, error)
	StrokeCompleted(ctx context.Context, paths []domain.Path, erase bool) error
}

type RoomLister interface {
	ListRooms(ctx context.Context) ([]domain.Room, error)
}

type Handler struct {
	session GameSession
	rooms   RoomLister
	roomID  string
	log     zerolog.Logger
}

// NewHandler serves session. roomID is used when a start request names no
// room.
func NewHandler(session GameSession, rooms RoomLister, roomID string, log zerolog.Logger) *Handler {
	return &Handler{session: session, rooms: rooms, roomID: roomID, log: log.With().Str("component", "web").Logger()}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/state", h.StateHandler)
	r.GET("/events", h.EventsHandler)
	r.GET("/rooms", h.RoomsHandler)
	r.POST("/game/start", h.StartGameHandler)
	r.POST("/round/start", h.StartRoundHandler)
	r.POST("/round/end", h.EndRoundHandler)
	r.POST("/messages", h.MessageHandler)
	r.POST("/drawing", h.DrawingHandler)
}

func (h *Handler) StateHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.session.Snapshot())
}

// EventsHandler streams the snapshot as server-sent events, once on connect
// and again after every change.
func (h *Handler) EventsHandler(ctx *gin.Context) {
	changes, cancel := h.session.Subscribe()
	defer cancel()

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.SSEvent("state", h.session.Snapshot())
	ctx.Writer.Flush()

	ctx.Stream(func(_ io.Writer) bool {
		select {
		case _, ok := <-changes:
			if !ok {
				return false
			}
			ctx.SSEvent("state", h.session.Snapshot())
			return true
		case <-ctx.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) RoomsHandler(ctx *gin.Context) {
	rooms, err := h.rooms.ListRooms(ctx.Request.Context())
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": rooms})
}

type startGameRequest struct {
	RoomID string `json:"roomId"`
}

func (h *Handler) StartGameHandler(ctx *gin.Context) {
	var req startGameRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid-request-format"})
			return
		}
	}
	if req.RoomID == "" {
		req.RoomID = h.roomID
	}
	if req.RoomID == "" {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}
	g, err := h.session.StartGame(ctx.Request.Context(), req.RoomID)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": g})
}

type roundRequest struct {
	GameID string `json:"gameId"`
}

func (h *Handler) StartRoundHandler(ctx *gin.Context) {
	h.roundAction(ctx, h.session.StartRound)
}

func (h *Handler) EndRoundHandler(ctx *gin.Context) {
	h.roundAction(ctx, h.session.EndRound)
}

func (h *Handler) roundAction(ctx *gin.Context, action func(context.Context, string) (*domain.Game, error)) {
	gameID, ok := h.gameID(ctx)
	if !ok {
		return
	}
	g, err := action(ctx.Request.Context(), gameID)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": g})
}

type messageRequest struct {
	GameID  string `json:"gameId"`
	Content string `json:"content" binding:"required"`
}

func (h *Handler) MessageHandler(ctx *gin.Context) {
	var req messageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid-request-format"})
		return
	}
	if req.GameID == "" {
		if g := h.session.Snapshot().Game; g != nil {
			req.GameID = g.ID
		}
	}
	if req.GameID == "" {
		h.fail(ctx, domain.ErrNoActiveGame)
		return
	}
	result, err := h.session.SendMessage(ctx.Request.Context(), req.GameID, req.Content)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

type drawingRequest struct {
	Paths []domain.Path `json:"paths" binding:"required"`
	Erase bool          `json:"erase"`
}

func (h *Handler) DrawingHandler(ctx *gin.Context) {
	var req drawingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid-request-format"})
		return
	}
	if err := h.session.StrokeCompleted(ctx.Request.Context(), req.Paths, req.Erase); err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// gameID reads the game from the body, falling back to the current game.
func (h *Handler) gameID(ctx *gin.Context) (string, bool) {
	var req roundRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid-request-format"})
			return "", false
		}
	}
	if req.GameID == "" {
		if g := h.session.Snapshot().Game; g != nil {
			req.GameID = g.ID
		}
	}
	if req.GameID == "" {
		h.fail(ctx, domain.ErrNoActiveGame)
		return "", false
	}
	return req.GameID, true
}

func (h *Handler) fail(ctx *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", ctx.FullPath()).Msg("request failed")
	}

	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		ctx.AbortWithStatusJSON(status, gin.H{"error": authErr.Message, "code": authErr.Code, "redirectTo": authErr.RedirectTo})
		return
	}
	var serverErr *domain.ServerError
	if errors.As(err, &serverErr) {
		ctx.AbortWithStatusJSON(status, gin.H{"error": serverErr.Message})
		return
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	var authErr *domain.AuthError
	var serverErr *domain.ServerError
	switch {
	case errors.As(err, &authErr), errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidRoomInput), errors.Is(err, domain.ErrInvalidData):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotDrawer):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoActiveGame), errors.Is(err, domain.ErrNoActiveRound),
		errors.Is(err, domain.ErrGameNotPlaying), errors.Is(err, domain.ErrRoundNotDrawable):
		return http.StatusConflict
	case errors.As(err, &serverErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRequestTimeout), errors.Is(err, domain.ErrConnectionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrNotConnected), errors.Is(err, domain.ErrDisconnected),
		errors.Is(err, game.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
