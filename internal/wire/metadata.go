package wire

import "encoding/json"

// participantMetadata is the side-channel identity blob a participant
// announces on join.
type participantMetadata struct {
	Name string `json:"name"`
}

func EncodeMetadata(displayName string) (string, error) {
	b, err := json.Marshal(participantMetadata{Name: displayName})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NameFromMetadata extracts the announced display name. ok is false for
// empty, unparsable or nameless metadata.
func NameFromMetadata(metadata string) (name string, ok bool) {
	if metadata == "" {
		return "", false
	}
	var m participantMetadata
	if err := json.Unmarshal([]byte(metadata), &m); err != nil || m.Name == "" {
		return "", false
	}
	return m.Name, true
}
