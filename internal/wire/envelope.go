package wire

import (
	"encoding/binary"
	"errors"

	"github.com/dkeye/Mimic/internal/domain"
)

// Data channel labels shared by the room server and its clients.
const (
	LabelFace     = "face"
	LabelReliable = "reliable"
)

var ErrBadEnvelope = errors.New("bad relay envelope")

// EncodeEnvelope prefixes payload with the sender id as relayed by the room
// server: uvarint id length, id bytes, payload.
func EncodeEnvelope(sender domain.ParticipantID, payload []byte) []byte {
	buf := make([]byte, binary.MaxVarintLen64+len(sender)+len(payload))
	n := binary.PutUvarint(buf, uint64(len(sender)))
	n += copy(buf[n:], sender)
	n += copy(buf[n:], payload)
	return buf[:n]
}

func DecodeEnvelope(b []byte) (domain.ParticipantID, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || l > domain.MaxParticipantIDLen || uint64(len(b)-n) < l {
		return "", nil, ErrBadEnvelope
	}
	id := domain.ParticipantID(b[n : n+int(l)])
	return id, b[n+int(l):], nil
}
