package domain

import "time"

type (
	RoomName string
	RoomID   string
)

// Room is a session record: one real-time multi-party connection scope.
type Room struct {
	ID        RoomID    `json:"id"`
	Name      RoomName  `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}
