package segment

import "sync"

// WindowCallback receives one reassembled analysis window. last is true
// only for the final, possibly short, window produced by a flushing Add.
type WindowCallback func(window []byte, last bool) error

// ChunkDivider reframes an arbitrary sequence of input chunks into a strict
// sequence of fixed-length analysis windows of W bytes, flushing a short
// final window on end-of-stream. It is a single-threaded state machine:
// Add must not be called concurrently with itself for the same divider.
type ChunkDivider struct {
	windowLen int
	callback  WindowCallback

	mu     sync.Mutex
	buffer []byte
}

// NewChunkDivider creates a divider with a W-byte window and a callback
// invoked once per full window and once more (with last=true) for a
// non-empty residual on a flushing Add. windowLen must be > 0.
func NewChunkDivider(windowLen int, callback WindowCallback) *ChunkDivider {
	if windowLen <= 0 {
		panic("segment: ChunkDivider requires windowLen > 0")
	}
	return &ChunkDivider{
		windowLen: windowLen,
		callback:  callback,
		buffer:    make([]byte, 0, windowLen),
	}
}

// Add appends chunk to the internal buffer, delivering full windows to the
// callback in arrival order as they accumulate. When last is true, any
// non-empty residual is delivered as a final short window with last=true;
// an empty residual invokes no callback. Errors returned by the callback
// propagate unchanged and abort any remaining delivery for this call.
func (d *ChunkDivider) Add(chunk []byte, last bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffer = append(d.buffer, chunk...)

	for len(d.buffer) >= d.windowLen {
		window := make([]byte, d.windowLen)
		copy(window, d.buffer[:d.windowLen])
		d.buffer = d.buffer[d.windowLen:]

		if err := d.callback(window, false); err != nil {
			return err
		}
	}

	if last && len(d.buffer) > 0 {
		residual := d.buffer
		d.buffer = make([]byte, 0, d.windowLen)
		if err := d.callback(residual, true); err != nil {
			return err
		}
	}

	return nil
}
