package capture

import (
	"math"

	"github.com/dkeye/Mimic/internal/domain"
)

// RotationFromMatrix extracts XYZ Euler angles from the rotation part of a
// column-major 4x4 transform. ok is false when m is not 16 elements.
func RotationFromMatrix(m []float64) (rot domain.Rotation, ok bool) {
	if len(m) != 16 {
		return domain.Rotation{}, false
	}
	m11, m12, m13 := m[0], m[4], m[8]
	m22, m23 := m[5], m[9]
	m32, m33 := m[6], m[10]

	rot.Y = math.Asin(clamp(m13, -1, 1))
	if math.Abs(m13) < 0.9999999 {
		rot.X = math.Atan2(-m23, m33)
		rot.Z = math.Atan2(-m12, m11)
	} else {
		// gimbal lock
		rot.X = math.Atan2(m32, m22)
		rot.Z = 0
	}
	return rot, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
