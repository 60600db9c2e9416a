package core

import (
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/wire"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO = wire.Member

func DTOOf(m *domain.Member) MemberDTO {
	return MemberDTO{
		ID:       m.Identity.ID,
		Name:     m.Identity.DisplayName,
		Metadata: m.Metadata,
		Speaking: m.Speaking,
	}
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	// Broadcast sends a signalling frame to every member but from.
	Broadcast(from SessionID, data Frame) PublishResult
	// Relay sends a data channel payload to every member but from, on the
	// channel with the same label.
	Relay(from SessionID, label string, payload []byte) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(room *domain.Room) RoomService
	GetRoom(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
