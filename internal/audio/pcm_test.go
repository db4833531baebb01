package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeInt16Mono(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(-16384)))

	out, err := Normalize(buf, Int16, 1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDelta(t, 0.5, out[0], 1e-6)
	assert.InDelta(t, -0.5, out[1], 1e-6)
}

func TestNormalizeInt16StereoDownmix(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(32767)))
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(-32768)))

	out, err := Normalize(buf, Int16, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0, out[0], 1e-3)
}

func TestNormalizeFloat32ClipsOutOfRange(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(2.5))

	out, err := Normalize(buf, Float32, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, float32(1), out[0])
}

func TestNormalizeRejectsMisalignedBuffer(t *testing.T) {
	_, err := Normalize([]byte{0, 1, 2}, Int16, 1)
	assert.Error(t, err)
}

func TestNormalizeRejectsUnknownSampleType(t *testing.T) {
	_, err := Normalize([]byte{0, 1}, SampleType("bogus"), 1)
	assert.Error(t, err)
}
