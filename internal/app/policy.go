package app

import "github.com/dkeye/Mimic/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

// FrameKind tells the policy which path overflowed.
type FrameKind int

const (
	SignalFrame FrameKind = iota
	DataFrame
)

type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession, kind FrameKind) BackpressureAction
}

// SimplePolicy kicks members whose signalling queue overflows and drops
// data frames for members whose data channel is congested.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member core.MemberSession, kind FrameKind) BackpressureAction {
	if kind == DataFrame {
		return DropFrame
	}
	return KickMember
}
