package domain

// Participant is the receiver-side view of someone in the session.
type Participant struct {
	ID          ParticipantID
	DisplayName string
	IsLocal     bool
	IsSpeaking  bool
	Face        FaceState
	// LastUpdated is a receipt counter, zero until the first FaceState arrives.
	LastUpdated uint64
}

func (p Participant) HasFaceData() bool { return p.LastUpdated > 0 }
