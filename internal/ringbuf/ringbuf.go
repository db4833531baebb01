// Package ringbuf provides a fixed-capacity byte ring buffer that keeps
// only the most recently added bytes, discarding the oldest on overflow.
// Ported from the original service's infsrv/util.py RingBuffer, kept for
// the same "bounded recent history" use it served there: cmd/infsrv uses
// one to keep a bounded in-memory tail of recent connection-close reasons
// for a debug endpoint.
package ringbuf

// RingBuffer is a fixed-capacity byte buffer. It is not safe for concurrent
// use; callers must provide their own synchronization.
type RingBuffer struct {
	data  []byte
	empty bool
	from  int
	to    int
}

// New creates a RingBuffer with the given capacity. Panics if capacity <= 0.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be > 0")
	}
	return &RingBuffer{
		data:  make([]byte, capacity),
		empty: true,
	}
}

// Len returns the number of bytes currently stored.
func (r *RingBuffer) Len() int {
	if !r.empty && r.to == r.from {
		return len(r.data)
	}
	return ((r.to - r.from) % len(r.data) + len(r.data)) % len(r.data)
}

// Add appends data, overwriting the oldest bytes if the combined length
// would exceed capacity. Only the most recent capacity bytes of data itself
// are kept if data is larger than the whole buffer.
func (r *RingBuffer) Add(data []byte) {
	capacity := len(r.data)
	before := r.Len()

	if len(data) > capacity {
		data = data[len(data)-capacity:]
	}

	split := len(data)
	if capacity-r.to < split {
		split = capacity - r.to
	}
	copy(r.data[r.to:r.to+split], data[:split])
	copy(r.data[:len(data)-split], data[split:])

	fromInc := len(data) - capacity + before
	if fromInc < 0 {
		fromInc = 0
	}
	r.from = mod(r.from+fromInc, capacity)
	r.to = mod(r.to+len(data), capacity)
	r.empty = r.empty && len(data) == 0
}

// Data returns the buffer's current contents in logical (oldest-first)
// order. The returned slice is a copy; callers may mutate it freely.
func (r *RingBuffer) Data() []byte {
	n := r.Len()
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = r.data[(r.from+i)%len(r.data)]
	}
	return out
}

func mod(a, m int) int {
	return ((a % m) + m) % m
}
