package core

import "github.com/dkeye/Mimic/internal/domain"

// SessionID identifies one live member connection. It equals the
// participant id so a reconnect replaces the previous session.
type SessionID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	// DTO reads the mutable member fields under the session lock.
	DTO() MemberDTO
	SetMetadata(string)
	// SetSpeaking reports whether the flag changed.
	SetSpeaking(bool) bool
	Signal() SignalConnection
	Media() MediaConnection
	UpdateSignal(SignalConnection) MemberSession
	UpdateMedia(MediaConnection) MemberSession
}
