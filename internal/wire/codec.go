// Package wire encodes and decodes facial-state messages carried on the
// unreliable data channel. Pure data transformation, no I/O.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Mimic/internal/domain"
)

// KindFaceData tags a complete FaceState snapshot.
const KindFaceData = "face-data"

const (
	CodeMalformed    = "malformed"
	CodeUnknownKind  = "unknown_kind"
	CodeMissingField = "missing_field"
)

type DecodeError struct {
	Code    string
	Message string
	Field   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Field)
}

func missing(field string) *DecodeError {
	return &DecodeError{Code: CodeMissingField, Message: "required field missing", Field: field}
}

// Message is a decoded face-data payload.
type Message struct {
	SenderID    domain.ParticipantID
	DisplayName string
	Face        domain.FaceState
}

type blendshape struct {
	CategoryName string  `json:"categoryName"`
	Score        float64 `json:"score"`
}

type rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type faceData struct {
	Kind        string       `json:"kind"`
	SenderID    string       `json:"senderId"`
	DisplayName string       `json:"displayName"`
	Blendshapes []blendshape `json:"blendshapes"`
	Rotation    rotation     `json:"rotation"`
}

// inbound mirrors faceData with pointers so absent fields are detectable.
// Unknown fields are ignored by encoding/json.
type inbound struct {
	Kind        *string `json:"kind"`
	SenderID    *string `json:"senderId"`
	DisplayName string  `json:"displayName"`
	Blendshapes *[]struct {
		CategoryName *string  `json:"categoryName"`
		Score        *float64 `json:"score"`
	} `json:"blendshapes"`
	Rotation *rotation `json:"rotation"`
}

// Encode builds the face-data payload for one local FaceState.
func Encode(sender domain.ParticipantID, displayName string, face domain.FaceState) ([]byte, error) {
	shapes := face.Blendshapes()
	msg := faceData{
		Kind:        KindFaceData,
		SenderID:    string(sender),
		DisplayName: displayName,
		Blendshapes: make([]blendshape, 0, len(shapes)),
	}
	for _, s := range shapes {
		msg.Blendshapes = append(msg.Blendshapes, blendshape{CategoryName: s.Category, Score: s.Score})
	}
	rot := face.Rotation()
	msg.Rotation = rotation{X: rot.X, Y: rot.Y, Z: rot.Z}

	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode face-data: %w", err)
	}
	return b, nil
}

// Decode parses a payload. Every failure is a *DecodeError.
func Decode(payload []byte) (Message, error) {
	var in inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return Message{}, &DecodeError{Code: CodeMalformed, Message: err.Error()}
	}
	if in.Kind == nil {
		return Message{}, missing("kind")
	}
	if *in.Kind != KindFaceData {
		return Message{}, &DecodeError{Code: CodeUnknownKind, Message: "unrecognized message kind", Field: *in.Kind}
	}
	if in.SenderID == nil || *in.SenderID == "" {
		return Message{}, missing("senderId")
	}
	if in.Blendshapes == nil {
		return Message{}, missing("blendshapes")
	}

	shapes := make([]domain.Blendshape, 0, len(*in.Blendshapes))
	for i, b := range *in.Blendshapes {
		if b.CategoryName == nil {
			return Message{}, missing(fmt.Sprintf("blendshapes[%d].categoryName", i))
		}
		if b.Score == nil {
			return Message{}, missing(fmt.Sprintf("blendshapes[%d].score", i))
		}
		shapes = append(shapes, domain.Blendshape{Category: *b.CategoryName, Score: *b.Score})
	}
	var rot domain.Rotation
	if in.Rotation != nil {
		rot = domain.Rotation{X: in.Rotation.X, Y: in.Rotation.Y, Z: in.Rotation.Z}
	}

	return Message{
		SenderID:    domain.ParticipantID(*in.SenderID),
		DisplayName: in.DisplayName,
		Face:        domain.NewFaceState(shapes, rot),
	}, nil
}
