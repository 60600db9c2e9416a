package domain

// Blendshape is one facial-expression channel with its intensity in [0,1].
type Blendshape struct {
	Category string
	Score    float64
}

// Rotation is head orientation in radians.
type Rotation struct {
	X float64 // pitch
	Y float64 // yaw
	Z float64 // roll
}

// FaceState is an immutable snapshot of facial expression and head pose.
// A new FaceState always replaces the previous one as a whole.
type FaceState struct {
	shapes   []Blendshape
	rotation Rotation
}

// NewFaceState copies shapes. A repeated category keeps its first position
// and takes the last score.
func NewFaceState(shapes []Blendshape, rot Rotation) FaceState {
	out := make([]Blendshape, 0, len(shapes))
	index := make(map[string]int, len(shapes))
	for _, s := range shapes {
		if i, ok := index[s.Category]; ok {
			out[i].Score = s.Score
			continue
		}
		index[s.Category] = len(out)
		out = append(out, s)
	}
	return FaceState{shapes: out, rotation: rot}
}

// NeutralFaceState is the state of a participant before any data arrived.
func NeutralFaceState() FaceState { return FaceState{} }

func (f FaceState) Blendshapes() []Blendshape {
	out := make([]Blendshape, len(f.shapes))
	copy(out, f.shapes)
	return out
}

func (f FaceState) Rotation() Rotation { return f.rotation }

func (f FaceState) Len() int { return len(f.shapes) }

// Score returns the category score; absent categories score 0.
func (f FaceState) Score(category string) float64 {
	for _, s := range f.shapes {
		if s.Category == category {
			return s.Score
		}
	}
	return 0
}

func (f FaceState) IsNeutral() bool {
	return len(f.shapes) == 0 && f.rotation == (Rotation{})
}

func (f FaceState) Equal(o FaceState) bool {
	if f.rotation != o.rotation || len(f.shapes) != len(o.shapes) {
		return false
	}
	for i := range f.shapes {
		if f.shapes[i] != o.shapes[i] {
			return false
		}
	}
	return true
}
