// Package transport implements the WebSocket `/segment` endpoint: query
// and header validation, per-connection wiring of a ChunkDivider, a
// SegmentProducer and an Annotator call per window, and NDJSON segment
// emission. Grounded on the teacher's src/transports/websocket.go
// (gorilla/websocket upgrade, per-connection write mutex, read loop over
// ReadMessage) and on the original service's infsrv/server/segment.py for
// the exact validation order and terminator/epsilon-filter behavior.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/blobfish-labs/infsrv/internal/annotator"
	"github.com/blobfish-labs/infsrv/internal/audio"
	"github.com/blobfish-labs/infsrv/internal/capability"
	"github.com/blobfish-labs/infsrv/internal/logger"
	"github.com/blobfish-labs/infsrv/internal/ringbuf"
	"github.com/blobfish-labs/infsrv/internal/segment"
	"github.com/blobfish-labs/infsrv/internal/workerpool"
)

const (
	// CapabilitiesHeader names the requested capability list.
	CapabilitiesHeader = "X-Blobfish-Capabilities"
	// TerminatorHeader, if present, names a byte sequence that marks the
	// end of the PCM stream when it appears as a binary message's suffix.
	TerminatorHeader = "X-Blobfish-Terminator"

	moduleName = "server/segment"

	// wireDurationEpsilon matches the original service: a segment shorter
	// than this is never written to the socket, even though the producer's
	// own contract already drops zero-length segments.
	wireDurationEpsilon = 0.1

	// timeEpsilon is the SegmentProducer boundary tolerance used for every
	// connection; it is not caller-configurable.
	timeEpsilon = 0.1
)

// Server serves the /segment endpoint for one or more enabled capabilities.
type Server struct {
	upgrader   websocket.Upgrader
	annotators map[string]annotator.Annotator
	pool       *workerpool.Pool
	log        *logger.Logger

	closeLogMu sync.Mutex
	closeLog   *ringbuf.RingBuffer
}

// SetCloseLog attaches a ring buffer that records one NDJSON line per
// connection close (code, reason, capability), for the /debug/closes
// endpoint. Optional; a Server with no close log attached simply skips
// recording.
func (s *Server) SetCloseLog(rb *ringbuf.RingBuffer) {
	s.closeLogMu.Lock()
	defer s.closeLogMu.Unlock()
	s.closeLog = rb
}

func (s *Server) recordClose(code int, reason, capabilityName string) {
	s.closeLogMu.Lock()
	defer s.closeLogMu.Unlock()
	if s.closeLog == nil {
		return
	}
	line, err := sonic.Marshal(struct {
		Code       int    `json:"code"`
		Reason     string `json:"reason"`
		Capability string `json:"capability,omitempty"`
	}{code, reason, capabilityName})
	if err != nil {
		return
	}
	s.closeLog.Add(append(line, '\n'))
}

// NewServer builds a Server with one Annotator per enabled capability
// drawn from registry's current "server/segment" capabilities, each
// constructed by build. Capabilities not named in enabled are skipped,
// mirroring the original handler only loading the pipelines it was told
// to serve.
func NewServer(registry *capability.Registry, enabled []string, build func(capability.Capability) (annotator.Annotator, error), pool *workerpool.Pool) (*Server, error) {
	enabledSet := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		enabledSet[name] = struct{}{}
	}

	annotators := make(map[string]annotator.Annotator)
	for name, cap := range registry.Current().ModuleCapabilities(moduleName) {
		if _, ok := enabledSet[name]; !ok {
			continue
		}
		a, err := build(cap)
		if err != nil {
			return nil, fmt.Errorf("transport: building annotator for capability %q: %w", name, err)
		}
		annotators[name] = a
	}

	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		annotators: annotators,
		pool:       pool,
		log:        logger.WithPrefix("transport"),
	}, nil
}

// enabledCapabilityNames returns the names of capabilities this server has
// loaded an annotator for.
func (s *Server) enabledCapabilityNames() map[string]capability.Capability {
	out := make(map[string]capability.Capability, len(s.annotators))
	for name := range s.annotators {
		out[name] = capability.Capability{}
	}
	return out
}

// params holds the parsed, not-yet-validated /segment query parameters.
type params struct {
	minSpeechDuration  float64
	maxSegmentDuration float64
	numChannels        int
	sampleRate         int
	sampleType         audio.SampleType
	windowDuration     float64
}

func parseQuery(q map[string][]string) (params, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	p := params{windowDuration: 5}

	if v, err := strconv.ParseFloat(get("minsd"), 64); err == nil {
		p.minSpeechDuration = v
	} else {
		return p, fmt.Errorf("missing or malformed 'minsd' query parameter")
	}

	if v, err := strconv.ParseFloat(get("maxsd"), 64); err == nil {
		p.maxSegmentDuration = v
	} else {
		return p, fmt.Errorf("missing or malformed 'maxsd' query parameter")
	}

	if v, err := strconv.Atoi(get("nc")); err == nil {
		p.numChannels = v
	} else {
		return p, fmt.Errorf("missing or malformed 'nc' query parameter")
	}

	if v, err := strconv.ParseFloat(get("sr"), 64); err == nil {
		p.sampleRate = int(v)
	} else {
		return p, fmt.Errorf("missing or malformed 'sr' query parameter")
	}

	p.sampleType = audio.SampleType(get("st"))

	if raw := get("wd"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			p.windowDuration = v
		} else {
			return p, fmt.Errorf("malformed 'wd' query parameter")
		}
	}

	return p, nil
}

// validate enforces the exact cross-field order of the original handler:
// the first violated constraint determines the close reason even when
// several are violated at once.
func (p params) validate() (code int, reason string, ok bool) {
	if p.minSpeechDuration < 1 || p.minSpeechDuration > 60 {
		return websocket.CloseProtocolError, "missing, malformed or unsupported 'minsd' (min speech duration) query parameter", false
	}
	if p.maxSegmentDuration < 5 || p.maxSegmentDuration > 300 {
		return websocket.CloseProtocolError, "missing, malformed or unsupported 'maxsd' (max segment duration) query parameter", false
	}
	if p.minSpeechDuration > p.maxSegmentDuration {
		return websocket.CloseProtocolError, "'minsd' greater than 'maxsd'", false
	}
	if p.numChannels < 1 || p.numChannels > 8 {
		return websocket.CloseProtocolError, "missing, malformed or unsupported 'nc' (number of channels) query parameter", false
	}
	if p.sampleRate < 8000 || p.sampleRate > 192000 {
		return websocket.CloseProtocolError, "missing, malformed or unsupported 'sr' (sample rate) query parameter", false
	}
	if audio.BytesPerSample(p.sampleType) == 0 {
		return websocket.CloseProtocolError, "missing or unknown 'st' (sample type) query parameter, expected 'i16', 'i32' or 'f32'", false
	}
	if p.windowDuration < 1 || p.windowDuration > 10 {
		return websocket.CloseProtocolError, "malformed or unsupported 'wd' (window duration secs) query parameter", false
	}
	return 0, "", true
}

// ServeHTTP upgrades the request and runs the /segment protocol on it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	log := s.log.WithPrefix("conn:" + connID[:8])

	p, err := parseQuery(r.URL.Query())
	if err != nil {
		s.closeAndRecord(conn, websocket.CloseProtocolError, err.Error(), "")
		return
	}
	if code, reason, ok := p.validate(); !ok {
		s.closeAndRecord(conn, code, reason, "")
		return
	}

	capName, err := capability.FindRequested(s.enabledCapabilityNames(), r.Header.Get(CapabilitiesHeader))
	if err != nil {
		s.closeAndRecord(conn, websocket.CloseProtocolError, err.Error(), "")
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "audio/lpcm" {
		s.closeAndRecord(conn, websocket.ClosePolicyViolation, "unsupported audio type, expected 'audio/lpcm'", capName)
		return
	}

	var terminator []byte
	if t := r.Header.Get(TerminatorHeader); t != "" {
		terminator = []byte(t)
	}

	ann := s.annotators[capName]

	producer := segment.NewSegmentProducer(p.windowDuration, p.minSpeechDuration, p.maxSegmentDuration, timeEpsilon)

	windowBytes := int(p.windowDuration * float64(p.numChannels) * float64(p.sampleRate) * float64(audio.BytesPerSample(p.sampleType)))

	writeMu := &connWriter{conn: conn}

	ctx := r.Context()

	var abnormal error
	divider := segment.NewChunkDivider(windowBytes, func(window []byte, last bool) error {
		return s.processWindow(ctx, ann, producer, p, window, last, writeMu, log)
	})

	log.Info("session started: capability=%s nc=%d sr=%d st=%s wd=%g minsd=%g maxsd=%g",
		capName, p.numChannels, p.sampleRate, p.sampleType, p.windowDuration, p.minSpeechDuration, p.maxSegmentDuration)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("read ended: %v", err)
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if terminator != nil && len(data) >= len(terminator) &&
			string(data[len(data)-len(terminator):]) == string(terminator) {
			log.Debug("detected pcm stream terminator")
			if err := divider.Add(data[:len(data)-len(terminator)], true); err != nil {
				abnormal = err
			}
			break
		}

		if err := divider.Add(data, false); err != nil {
			abnormal = err
			break
		}
	}

	if abnormal != nil {
		var te *transportError
		if errors.As(abnormal, &te) {
			log.Debug("transport error, terminating session: %v", te)
			return
		}
		log.Error("annotator error: %v", abnormal)
		s.closeAndRecord(conn, websocket.CloseInternalServerErr, abnormal.Error(), capName)
		return
	}

	s.closeAndRecord(conn, websocket.CloseNormalClosure, "", capName)
}

// transportError marks a failure caused by the client connection itself
// (a socket write failure, broken pipe) rather than the annotator or
// codec: spec classifies this as a transport error (log at debug,
// terminate the session loop, no flush), distinct from an annotator error
// (1011 abnormal close).
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// processWindow runs one window through the annotator and the producer,
// writing any newly finalized segments to the socket.
func (s *Server) processWindow(ctx context.Context, ann annotator.Annotator, producer *segment.SegmentProducer, p params, window []byte, last bool, w *connWriter, log *logger.Logger) error {
	waveform, err := audio.Normalize(window, p.sampleType, p.numChannels)
	if err != nil {
		return fmt.Errorf("normalizing window: %w", err)
	}

	var rawIntervals []annotator.Interval
	err = s.pool.Submit(ctx, func(ctx context.Context) error {
		var annErr error
		rawIntervals, annErr = ann.Annotate(ctx, waveform, p.sampleRate)
		return annErr
	})
	if err != nil {
		return fmt.Errorf("annotating window: %w", err)
	}

	intervals := make([]segment.Interval, len(rawIntervals))
	for i, iv := range rawIntervals {
		intervals[i] = segment.Interval{Begin: iv.Begin, End: iv.End}
	}

	segments := producer.NextWindow(intervals, last)

	for _, seg := range segments {
		if seg.Duration() <= wireDurationEpsilon {
			continue
		}
		payload, err := sonic.Marshal(seg)
		if err != nil {
			return fmt.Errorf("marshaling segment: %w", err)
		}
		if err := w.writeText(append(payload, '\n')); err != nil {
			return &transportError{err: fmt.Errorf("writing segment: %w", err)}
		}
		log.Debug("sent %s segment %gs-%gs", seg.Kind, seg.Begin, seg.End)
	}

	return nil
}

// closeAndRecord sends a close frame with code/reason and records it in
// the server's debug close log (if attached) before closing the socket.
func (s *Server) closeAndRecord(conn *websocket.Conn, code int, reason, capabilityName string) {
	s.recordClose(code, reason, capabilityName)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}

// connWriter serializes writes to a single connection, matching the
// teacher's writeMu-guarded wsConnection pattern.
type connWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *connWriter) writeText(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
