package segment

import "sync"

// SegmentProducer is the stateful window-to-timeline transducer: it turns
// the annotator's per-window intervals into a causal, non-overlapping
// timeline of speech/void segments, enforcing minimum speech-duration
// merging, maximum segment-duration splitting, and cross-window boundary
// stitching. A SegmentProducer is a single-threaded state machine: callers
// must serialize calls to NextWindow for a given session.
type SegmentProducer struct {
	windowDuration     float64 // D
	minSpeechDuration  float64 // m
	maxSegmentDuration float64 // M
	timeEpsilon        float64 // eps

	mu sync.Mutex

	timeOffset    float64 // T: accumulated global time
	trailingBegin float64 // b_t: start of the in-progress, not-yet-emitted run
	trailingKind  Kind    // k_t: kind of the in-progress run

	pendingShort *Segment // carried sub-minimum speech run, absorbed forward
}

// NewSegmentProducer constructs a producer for a fixed window-duration D,
// minimum-speech-duration m, maximum-segment-duration M and boundary
// tolerance eps, subject to 0 < eps << m <= M and D > 0. D <= 0, eps <= 0
// and m > M are programmer errors and panic, matching §4.2's failure
// semantics ("the core does not attempt to recover"); the remaining
// constraints (m > 0, eps much smaller than m) are not checked.
func NewSegmentProducer(windowDuration, minSpeechDuration, maxSegmentDuration, timeEpsilon float64) *SegmentProducer {
	if windowDuration <= 0 {
		panic("segment: SegmentProducer requires windowDuration > 0")
	}
	if timeEpsilon <= 0 {
		panic("segment: SegmentProducer requires timeEpsilon > 0")
	}
	if minSpeechDuration > maxSegmentDuration {
		panic("segment: SegmentProducer requires minSpeechDuration <= maxSegmentDuration")
	}
	return &SegmentProducer{
		windowDuration:     windowDuration,
		minSpeechDuration:  minSpeechDuration,
		maxSegmentDuration: maxSegmentDuration,
		timeEpsilon:        timeEpsilon,
		trailingKind:       Void,
	}
}

// NextWindow consumes one window's worth of ascending, non-overlapping,
// window-local intervals (clipped to [0, D] with tolerance) and returns the
// newly-finalized timeline segments for this window. last marks the final
// window of a session: any open trailing speech run is flushed to T+D and
// any still-pending short speech segment is emitted as-is.
//
// Behavior on out-of-order or overlapping intervals is undefined, per the
// core's failure semantics; callers are expected to honor the ascending,
// non-overlapping contract.
func (p *SegmentProducer) NextWindow(intervals []Interval, last bool) []Segment {
	p.mu.Lock()
	defer p.mu.Unlock()

	T := p.timeOffset
	D := p.windowDuration

	var raw []Segment
	appendRaw := func(kind Kind, begin, end float64) {
		raw = appendSegment(raw, Segment{Kind: kind, Begin: begin, End: end})
	}

	if len(intervals) == 0 {
		appendRaw(p.trailingKind, p.trailingBegin, T)
		appendRaw(Void, T, T+D)
		p.trailingBegin = T + D
		p.trailingKind = Void
	} else {
		for _, iv := range intervals {
			openBegin := iv.Begin < p.timeEpsilon
			openEnd := iv.End > D-p.timeEpsilon
			gb := T + iv.Begin
			ge := T + iv.End

			switch {
			case !openBegin && !openEnd:
				appendRaw(p.trailingKind, p.trailingBegin, gb)
				appendRaw(Speech, gb, ge)
				p.trailingBegin = ge
				p.trailingKind = Void
			case openBegin && !openEnd:
				// Continuation closes: the pre-run trailing kind is
				// replaced by the extended speech.
				appendRaw(Speech, p.trailingBegin, ge)
				p.trailingBegin = ge
				p.trailingKind = Void
			case !openBegin && openEnd:
				appendRaw(p.trailingKind, p.trailingBegin, gb)
				p.trailingBegin = gb
				p.trailingKind = Speech
			default:
				// Both open: the existing trailing speech simply
				// extends; nothing is emitted this interval.
			}

			if openEnd {
				break
			}
		}

		if p.trailingKind == Void {
			appendRaw(Void, p.trailingBegin, T+D)
			p.trailingBegin = T + D
		} else {
			for (T+D)-p.trailingBegin > p.maxSegmentDuration {
				appendRaw(Speech, p.trailingBegin, p.trailingBegin+p.maxSegmentDuration)
				p.trailingBegin += p.maxSegmentDuration
			}
		}
	}

	if last && p.trailingKind == Speech {
		appendRaw(Speech, p.trailingBegin, T+D)
		p.trailingBegin = T + D
		p.trailingKind = Void
	}

	filtered := p.mergeShortSpeech(raw, last)
	out := splitMaxDuration(filtered, p.maxSegmentDuration)

	p.timeOffset = T + D
	return out
}

// appendSegment implements the §4.2.3 appending helper: zero-length
// segments are dropped, and a new segment contiguous with and same-kind as
// the running list's tail extends that tail in place instead of pushing a
// new entry.
func appendSegment(list []Segment, seg Segment) []Segment {
	if seg.Begin == seg.End {
		return list
	}
	if n := len(list); n > 0 {
		prev := &list[n-1]
		if prev.Kind == seg.Kind && prev.End == seg.Begin {
			prev.End = seg.End
			return list
		}
	}
	return append(list, seg)
}

// mergeShortSpeech implements §4.2.5: any speech segment shorter than m is
// held in pendingShort and absorbed into the next segment (speech or void)
// by extending pendingShort's end, until its duration reaches m, at which
// point it is emitted. pendingShort persists across calls. On last, any
// still-pending short speech is emitted as-is.
func (p *SegmentProducer) mergeShortSpeech(raw []Segment, last bool) []Segment {
	var out []Segment
	for _, seg := range raw {
		if p.pendingShort != nil {
			p.pendingShort.End = seg.End
			if p.pendingShort.Duration() >= p.minSpeechDuration {
				out = append(out, *p.pendingShort)
				p.pendingShort = nil
			}
			continue
		}

		if seg.Kind == Speech && seg.Duration() < p.minSpeechDuration {
			held := seg
			p.pendingShort = &held
			continue
		}

		out = append(out, seg)
	}

	if last && p.pendingShort != nil {
		out = append(out, *p.pendingShort)
		p.pendingShort = nil
	}

	return out
}

// splitMaxDuration implements §4.2.6: scans left-to-right and repeatedly
// splits any segment longer than maxDuration at begin+maxDuration,
// preserving kind across the split.
func splitMaxDuration(segments []Segment, maxDuration float64) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		begin := seg.Begin
		for seg.End-begin > maxDuration {
			out = append(out, Segment{Kind: seg.Kind, Begin: begin, End: begin + maxDuration})
			begin += maxDuration
		}
		out = append(out, Segment{Kind: seg.Kind, Begin: begin, End: seg.End})
	}
	return out
}
