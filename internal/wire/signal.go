package wire

import "github.com/dkeye/Mimic/internal/domain"

// Signalling message types exchanged over the room server WebSocket.
const (
	MsgJoin      = "join"
	MsgLeave     = "leave"
	MsgPing      = "ping"
	MsgMetadata  = "metadata"
	MsgOffer     = "offer"
	MsgAnswer    = "answer"
	MsgCandidate = "candidate"

	MsgRoomState     = "room_state"
	MsgMemberJoined  = "member_joined"
	MsgMemberLeft    = "member_left"
	MsgMemberUpdated = "member_updated"
	MsgSpeaking      = "speaking"
	MsgPong          = "pong"
	MsgLeft          = "left"
	MsgError         = "error"
)

// SignalType is decoded first to dispatch on the message type.
type SignalType struct {
	Type string `json:"type"`
}

// Member is the signalling view of a room member.
type Member struct {
	ID       domain.ParticipantID `json:"id"`
	Name     string               `json:"name"`
	Metadata string               `json:"metadata,omitempty"`
	Speaking bool                 `json:"speaking"`
}

type RoomRef struct {
	ID   domain.RoomID   `json:"id"`
	Name domain.RoomName `json:"name"`
}

type RoomState struct {
	Type    string   `json:"type"`
	Self    Member   `json:"self"`
	Room    RoomRef  `json:"room"`
	Members []Member `json:"members"`
}

// MemberEvent carries member_joined and member_updated.
type MemberEvent struct {
	Type   string `json:"type"`
	Member Member `json:"member"`
}

type MemberLeft struct {
	Type string               `json:"type"`
	ID   domain.ParticipantID `json:"id"`
}

type Speaking struct {
	Type     string               `json:"type"`
	ID       domain.ParticipantID `json:"id"`
	Speaking bool                 `json:"speaking"`
}

type Metadata struct {
	Type     string `json:"type"`
	Metadata string `json:"metadata"`
}

// SDP carries offer and answer.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
