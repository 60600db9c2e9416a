package domain

// Member represents a participant's presence in a live room.
// No transport or lifecycle logic here.
type Member struct {
	Identity *Identity
	Metadata string
	Speaking bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id *Identity) *Member {
	return &Member{Identity: id}
}
