package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

type Room struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	MaxPlayers int        `json:"maxPlayers"`
	Rounds     int        `json:"rounds"`
	IsPrivate  bool       `json:"isPrivate"`
	Status     GameStatus `json:"status"`
	OwnerID    string     `json:"ownerId"`
	Users      []RoomUser `json:"users"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type RoomUser struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	RoomID   string    `json:"roomId"`
	IsReady  bool      `json:"isReady"`
	JoinedAt time.Time `json:"joinedAt"`
	User     struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

type RoomUserEvent struct {
	Room   Room   `json:"room"`
	UserID string `json:"userId"`
}

type CreateRoomOptions struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
	Rounds     int    `json:"rounds,omitempty"`
	IsPrivate  bool   `json:"isPrivate,omitempty"`
	Password   string `json:"password,omitempty"`
}

type JoinRoomOptions struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

func (o CreateRoomOptions) Validate() error {
	if n := utf8.RuneCountInString(o.Name); n < 3 || n > 20 {
		return fmt.Errorf("%w: name must be 3 to 20 characters", ErrInvalidRoomInput)
	}
	if o.MaxPlayers != 0 && (o.MaxPlayers < 1 || o.MaxPlayers > 10) {
		return fmt.Errorf("%w: maxPlayers must be between 1 and 10", ErrInvalidRoomInput)
	}
	if o.Rounds != 0 && (o.Rounds < 1 || o.Rounds > 8) {
		return fmt.Errorf("%w: rounds must be between 1 and 8", ErrInvalidRoomInput)
	}
	if o.Password != "" {
		if n := utf8.RuneCountInString(o.Password); n < 8 || n > 20 {
			return fmt.Errorf("%w: password must be 8 to 20 characters", ErrInvalidRoomInput)
		}
	}
	return nil
}
