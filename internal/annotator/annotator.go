// Package annotator defines the boundary between the segmentation core and
// whatever external speech/voice-activity model actually looks at audio. The
// core treats an Annotator as an opaque black box: it must never leak
// model-library vocabulary (states, thresholds, embeddings, frame counts)
// into internal/segment.
package annotator

import "context"

// Interval is a window-local (begin, end) pair in seconds, clipped to
// [0, windowDuration], describing one detected speech span within the
// waveform passed to Annotate.
type Interval struct {
	Begin float64
	End   float64
}

// Annotator turns one window's mono waveform into an ascending,
// non-overlapping list of speech intervals. Implementations may hold
// internal state across calls (e.g. a neural model's hidden state) but must
// treat successive calls for a single session as chronologically ordered;
// callers must not invoke Annotate concurrently for the same session.
type Annotator interface {
	// Annotate reports speech intervals found in waveform, a mono PCM
	// signal scaled to [-1, 1] sampled at sampleRate Hz.
	Annotate(ctx context.Context, waveform []float32, sampleRate int) ([]Interval, error)

	// Reset clears any session-scoped internal state (e.g. a recurrent
	// model's hidden state), so the next Annotate call starts fresh.
	Reset()

	// Close releases resources held by the Annotator (model sessions,
	// file handles). After Close, further calls are undefined.
	Close() error
}
