package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	face := domain.NewFaceState([]domain.Blendshape{
		{Category: "eyeBlinkLeft", Score: 0.9},
		{Category: "jawOpen", Score: 0.25},
	}, domain.Rotation{X: 0.1, Y: -0.2, Z: 0.05})

	payload, err := Encode("ana-1", "Ana", face)
	require.NoError(t, err)

	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("ana-1"), msg.SenderID)
	assert.Equal(t, "Ana", msg.DisplayName)
	assert.True(t, face.Equal(msg.Face))
}

func TestEncode_WireShape(t *testing.T) {
	face := domain.NewFaceState([]domain.Blendshape{{Category: "eyeBlinkLeft", Score: 0.9}}, domain.Rotation{})
	payload, err := Encode("ana-1", "Ana", face)
	require.NoError(t, err)

	want := `{"kind":"face-data","senderId":"ana-1","displayName":"Ana",
		"blendshapes":[{"categoryName":"eyeBlinkLeft","score":0.9}],
		"rotation":{"x":0,"y":0,"z":0}}`
	assert.JSONEq(t, want, string(payload))
}

func TestEncode_EmptyBlendshapesStaysArray(t *testing.T) {
	payload, err := Encode("bo-1", "Bo", domain.NeutralFaceState())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.Equal(t, "[]", string(raw["blendshapes"]))

	_, err = Decode(payload)
	assert.NoError(t, err)
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	payload := []byte(`{"kind":"face-data","version":2,"senderId":"x","displayName":"X",
		"blendshapes":[{"categoryName":"jawOpen","score":0.3,"extra":true}],"rotation":{"x":1,"y":2,"z":3,"w":4}}`)

	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, 0.3, msg.Face.Score("jawOpen"))
	assert.Equal(t, domain.Rotation{X: 1, Y: 2, Z: 3}, msg.Face.Rotation())
}

func TestDecode_MissingRotationIsZero(t *testing.T) {
	msg, err := Decode([]byte(`{"kind":"face-data","senderId":"x","blendshapes":[]}`))
	require.NoError(t, err)
	assert.Equal(t, domain.Rotation{}, msg.Face.Rotation())
	assert.Equal(t, "", msg.DisplayName)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantCode string
		field    string
	}{
		{"not json", `face`, CodeMalformed, ""},
		{"wrong shape", `[1,2,3]`, CodeMalformed, ""},
		{"blendshapes not array", `{"kind":"face-data","senderId":"x","blendshapes":{}}`, CodeMalformed, ""},
		{"missing kind", `{"senderId":"x","blendshapes":[]}`, CodeMissingField, "kind"},
		{"unknown kind", `{"kind":"chat","senderId":"x","blendshapes":[]}`, CodeUnknownKind, "chat"},
		{"missing sender", `{"kind":"face-data","blendshapes":[]}`, CodeMissingField, "senderId"},
		{"empty sender", `{"kind":"face-data","senderId":"","blendshapes":[]}`, CodeMissingField, "senderId"},
		{"missing blendshapes", `{"kind":"face-data","senderId":"x"}`, CodeMissingField, "blendshapes"},
		{"null blendshapes", `{"kind":"face-data","senderId":"x","blendshapes":null}`, CodeMissingField, "blendshapes"},
		{"entry without name", `{"kind":"face-data","senderId":"x","blendshapes":[{"score":1}]}`, CodeMissingField, "blendshapes[0].categoryName"},
		{"entry without score", `{"kind":"face-data","senderId":"x","blendshapes":[{"categoryName":"a"}]}`, CodeMissingField, "blendshapes[0].score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.wantCode, de.Code)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}
