package render

import (
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/rs/zerolog/log"
)

// LogRenderer stands in for a 3-D scene on headless clients. It logs a
// participant's dominant blendshape whenever it changes.
type LogRenderer struct {
	last map[domain.ParticipantID]string
}

func NewLogRenderer() *LogRenderer {
	return &LogRenderer{last: make(map[domain.ParticipantID]string)}
}

// Dominant returns the highest scoring category, empty for a neutral face.
func Dominant(fs domain.FaceState) (category string, score float64) {
	for _, b := range fs.Blendshapes() {
		if b.Score > score {
			category, score = b.Category, b.Score
		}
	}
	return category, score
}

func (r *LogRenderer) ApplyFaceState(p domain.Participant, fs domain.FaceState) {
	cat, score := Dominant(fs)
	if r.last[p.ID] == cat {
		return
	}
	r.last[p.ID] = cat
	rot := fs.Rotation()
	log.Debug().
		Str("module", "render").
		Str("participant", string(p.ID)).
		Str("name", p.DisplayName).
		Bool("local", p.IsLocal).
		Bool("speaking", p.IsSpeaking).
		Str("dominant", cat).
		Float64("score", score).
		Float64("yaw", rot.Y).
		Msg("expression")
}
