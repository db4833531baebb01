// Package onnxvad is a concrete, worked-example Annotator backed by a
// Silero-VAD-style ONNX graph: it turns a window's mono waveform into
// frame-level speech probabilities and converts runs of frames above
// threshold into speech intervals. Grounded on the teacher's
// src/audio/vad/silero.go (session setup, embedded model, context/state
// tensors) and cortexswarm-smart-turn-go's silero_vad.go (reusable,
// allocation-free tensor buffers) and engine.go (frame-run to interval
// bookkeeping).
package onnxvad

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/blobfish-labs/infsrv/internal/annotator"
	"github.com/blobfish-labs/infsrv/internal/logger"
)

const (
	frameSamples        = 512 // Silero's native chunk size at 16kHz
	contextSamples      = 64
	inputSamples        = contextSamples + frameSamples
	stateSize           = 2 * 1 * 128
	stateResetInterval  = 5 * time.Second
	defaultSampleRate   = 16000
	defaultThreshold    = 0.5
)

// Config configures a VAD Annotator.
type Config struct {
	// ModelPath is the filesystem path to a Silero-VAD-compatible ONNX
	// model exporting inputs (input, state, sr) and outputs (output, stateN).
	ModelPath string
	// Threshold is the frame speech-probability cutoff above which a frame
	// counts as speech. Defaults to 0.5.
	Threshold float32
}

// VAD is an Annotator backed by a single ONNX Runtime session. Not safe for
// concurrent use: callers must serialize Annotate calls for a given session,
// matching the core's single-threaded-per-session contract.
type VAD struct {
	threshold float32

	mu sync.Mutex

	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	state    *ort.Tensor[float32]
	sr       *ort.Tensor[int64]
	output   *ort.Tensor[float32]
	stateOut *ort.Tensor[float32]

	context   [contextSamples]float32
	lastReset time.Time

	log *logger.Logger
}

// New loads the ONNX model at cfg.ModelPath and prepares a reusable
// inference session. The ONNX Runtime shared library must already be
// configured via ort.SetSharedLibraryPath/ort.InitializeEnvironment by the
// caller (cmd/infsrv does this once at startup).
func New(cfg Config) (*VAD, error) {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}

	inputShape := ort.NewShape(1, inputSamples)
	inputTensor, err := ort.NewTensor(inputShape, make([]float32, inputSamples))
	if err != nil {
		return nil, fmt.Errorf("onnxvad: create input tensor: %w", err)
	}

	stateShape := ort.NewShape(2, 1, 128)
	stateTensor, err := ort.NewTensor(stateShape, make([]float32, stateSize))
	if err != nil {
		_ = inputTensor.Destroy()
		return nil, fmt.Errorf("onnxvad: create state tensor: %w", err)
	}

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{defaultSampleRate})
	if err != nil {
		_ = inputTensor.Destroy()
		_ = stateTensor.Destroy()
		return nil, fmt.Errorf("onnxvad: create sample-rate tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		_ = inputTensor.Destroy()
		_ = stateTensor.Destroy()
		_ = srTensor.Destroy()
		return nil, fmt.Errorf("onnxvad: create output tensor: %w", err)
	}

	stateOutTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		_ = inputTensor.Destroy()
		_ = stateTensor.Destroy()
		_ = srTensor.Destroy()
		_ = outputTensor.Destroy()
		return nil, fmt.Errorf("onnxvad: create state-output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateOutTensor},
		nil)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = stateTensor.Destroy()
		_ = srTensor.Destroy()
		_ = outputTensor.Destroy()
		_ = stateOutTensor.Destroy()
		return nil, fmt.Errorf("onnxvad: create session: %w", err)
	}

	v := &VAD{
		threshold: threshold,
		session:   session,
		input:     inputTensor,
		state:     stateTensor,
		sr:        srTensor,
		output:    outputTensor,
		stateOut:  stateOutTensor,
		lastReset: time.Now(),
		log:       logger.WithPrefix("onnxvad"),
	}
	v.log.Info("loaded model %s (threshold=%.2f)", cfg.ModelPath, threshold)
	return v, nil
}

// Annotate slices waveform into frameSamples-wide frames (a shorter final
// partial frame is dropped and never scored; the carried context buffer
// holds the tail of the last full frame), scores each with the ONNX graph,
// and coalesces contiguous above-threshold frames into intervals.
func (v *VAD) Annotate(ctx context.Context, waveform []float32, sampleRate int) ([]annotator.Interval, error) {
	if sampleRate != defaultSampleRate {
		return nil, fmt.Errorf("onnxvad: unsupported sample rate %d (want %d)", sampleRate, defaultSampleRate)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.maybeResetLocked()

	frameDuration := float64(frameSamples) / float64(sampleRate)

	var intervals []annotator.Interval
	var open bool
	var openBegin float64

	numFrames := len(waveform) / frameSamples
	for i := 0; i < numFrames; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		frame := waveform[i*frameSamples : (i+1)*frameSamples]
		prob, err := v.scoreLocked(frame)
		if err != nil {
			return nil, fmt.Errorf("onnxvad: inference: %w", err)
		}

		begin := float64(i) * frameDuration
		speech := prob >= v.threshold

		switch {
		case speech && !open:
			open = true
			openBegin = begin
		case !speech && open:
			intervals = append(intervals, annotator.Interval{Begin: openBegin, End: begin})
			open = false
		}
	}

	if open {
		end := float64(numFrames) * frameDuration
		intervals = append(intervals, annotator.Interval{Begin: openBegin, End: end})
	}

	return intervals, nil
}

// scoreLocked runs one frame through the model, updating the carried
// context and recurrent state in place. Caller must hold v.mu.
func (v *VAD) scoreLocked(frame []float32) (float32, error) {
	if len(frame) != frameSamples {
		return 0, fmt.Errorf("onnxvad: frame must be exactly %d samples, got %d", frameSamples, len(frame))
	}

	inputData := v.input.GetData()
	copy(inputData[:contextSamples], v.context[:])
	copy(inputData[contextSamples:], frame)
	copy(v.context[:], inputData[inputSamples-contextSamples:])

	if err := v.session.Run(); err != nil {
		return 0, err
	}

	prob := v.output.GetData()[0]
	copy(v.state.GetData(), v.stateOut.GetData())
	return prob, nil
}

// maybeResetLocked zeroes the carried context and recurrent state once
// stateResetInterval has passed since the last reset, matching the
// teacher's 5-second reset interval for the same model.
func (v *VAD) maybeResetLocked() {
	if time.Since(v.lastReset) >= stateResetInterval {
		v.resetLocked()
	}
}

func (v *VAD) resetLocked() {
	for i := range v.context {
		v.context[i] = 0
	}
	v.state.ZeroContents()
	v.lastReset = time.Now()
}

// Reset clears the carried context and recurrent state, for use between
// sessions that share a pooled VAD instance.
func (v *VAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

// Close releases the ONNX session and its tensors.
func (v *VAD) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == nil {
		return nil
	}
	err := errors.Join(
		v.session.Destroy(),
		v.input.Destroy(),
		v.state.Destroy(),
		v.sr.Destroy(),
		v.output.Destroy(),
		v.stateOut.Destroy(),
	)
	v.session = nil
	return err
}

var _ annotator.Annotator = (*VAD)(nil)
