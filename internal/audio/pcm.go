// Package audio normalizes raw interleaved LPCM byte buffers into the mono,
// [-1, 1]-scaled float32 waveform the Annotator interface expects. Grounded
// on the teacher's src/audio/converter.go (little-endian sample decode via
// encoding/binary, one function per concern), generalized from the
// teacher's fixed int16/mulaw codecs to the three sample types this service
// accepts on the wire.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleType identifies the on-wire LPCM sample encoding.
type SampleType string

const (
	// Int16 is signed 16-bit little-endian PCM.
	Int16 SampleType = "i16"
	// Int32 is signed 32-bit little-endian PCM.
	Int32 SampleType = "i32"
	// Float32 is IEEE-754 32-bit little-endian float PCM.
	Float32 SampleType = "f32"
)

// BytesPerSample returns the on-wire width of one sample of st, or 0 for an
// unrecognized type.
func BytesPerSample(st SampleType) int {
	switch st {
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	default:
		return 0
	}
}

// Normalize decodes an interleaved multi-channel LPCM buffer into a single
// mono float32 waveform scaled to [-1, 1]: it reshapes the byte buffer into
// (frames, channels) samples, downmixes each frame's channels by averaging,
// and scales to the annotator's expected range. numChannels must be >= 1.
func Normalize(data []byte, st SampleType, numChannels int) ([]float32, error) {
	if numChannels < 1 {
		return nil, fmt.Errorf("audio: numChannels must be >= 1, got %d", numChannels)
	}

	width := BytesPerSample(st)
	if width == 0 {
		return nil, fmt.Errorf("audio: unsupported sample type %q", st)
	}

	frameWidth := width * numChannels
	if len(data)%frameWidth != 0 {
		return nil, fmt.Errorf("audio: buffer length %d is not a multiple of the frame width %d (sample type %s, %d channels)", len(data), frameWidth, st, numChannels)
	}

	numFrames := len(data) / frameWidth
	out := make([]float32, numFrames)

	decode := decoderFor(st)
	for f := 0; f < numFrames; f++ {
		var sum float32
		base := f * frameWidth
		for c := 0; c < numChannels; c++ {
			off := base + c*width
			sum += decode(data[off : off+width])
		}
		out[f] = sum / float32(numChannels)
	}

	return out, nil
}

// decoderFor returns a function decoding one sample of st, already scaled
// to [-1, 1], from a width-byte little-endian slice.
func decoderFor(st SampleType) func([]byte) float32 {
	switch st {
	case Int16:
		return func(b []byte) float32 {
			v := int16(binary.LittleEndian.Uint16(b))
			return float32(v) / 32768.0
		}
	case Int32:
		return func(b []byte) float32 {
			v := int32(binary.LittleEndian.Uint32(b))
			return float32(v) / 2147483648.0
		}
	case Float32:
		return func(b []byte) float32 {
			bits := binary.LittleEndian.Uint32(b)
			v := math.Float32frombits(bits)
			if v > 1 {
				return 1
			}
			if v < -1 {
				return -1
			}
			return v
		}
	default:
		return func([]byte) float32 { return 0 }
	}
}
