package capture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func identityMatrix() []float64 {
	return []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func cosf(a float64) float64 { return math.Cos(a) }
func sinf(a float64) float64 { return math.Sin(a) }

func TestRotationFromMatrix_Identity(t *testing.T) {
	rot, ok := RotationFromMatrix(identityMatrix())
	assert.True(t, ok)
	assert.InDelta(t, 0, rot.X, 1e-12)
	assert.InDelta(t, 0, rot.Y, 1e-12)
	assert.InDelta(t, 0, rot.Z, 1e-12)
}

func TestRotationFromMatrix_SingleAxis(t *testing.T) {
	const a = 0.4

	pitch := identityMatrix()
	pitch[5], pitch[9] = cosf(a), -sinf(a)
	pitch[6], pitch[10] = sinf(a), cosf(a)
	rot, ok := RotationFromMatrix(pitch)
	assert.True(t, ok)
	assert.InDelta(t, a, rot.X, 1e-9)
	assert.InDelta(t, 0, rot.Y, 1e-9)

	roll := identityMatrix()
	roll[0], roll[4] = cosf(a), -sinf(a)
	roll[1], roll[5] = sinf(a), cosf(a)
	rot, ok = RotationFromMatrix(roll)
	assert.True(t, ok)
	assert.InDelta(t, a, rot.Z, 1e-9)
	assert.InDelta(t, 0, rot.X, 1e-9)

	rot, ok = RotationFromMatrix(yawMatrix(-a))
	assert.True(t, ok)
	assert.InDelta(t, -a, rot.Y, 1e-9)
}

func TestRotationFromMatrix_GimbalLock(t *testing.T) {
	rot, ok := RotationFromMatrix(yawMatrix(math.Pi / 2))
	assert.True(t, ok)
	assert.InDelta(t, math.Pi/2, rot.Y, 1e-6)
	assert.Zero(t, rot.Z)
}

func TestRotationFromMatrix_WrongSize(t *testing.T) {
	_, ok := RotationFromMatrix(nil)
	assert.False(t, ok)
	_, ok = RotationFromMatrix(make([]float64, 9))
	assert.False(t, ok)
}
