package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBuffer(t *testing.T) {
	buf := New(10)
	assert.Equal(t, []byte{}, buf.Data())
	assert.Equal(t, 0, buf.Len())

	buf.Add([]byte("abcdefgh"))
	assert.Equal(t, []byte("abcdefgh"), buf.Data())
	assert.Equal(t, 8, buf.Len())

	buf.Add([]byte("ijkl"))
	assert.Equal(t, []byte("cdefghijkl"), buf.Data())
	assert.Equal(t, 10, buf.Len())

	buf.Add([]byte("mnopqrst"))
	assert.Equal(t, []byte("klmnopqrst"), buf.Data())
	assert.Equal(t, 10, buf.Len())

	buf.Add([]byte("uvwxyz"))
	assert.Equal(t, []byte("qrstuvwxyz"), buf.Data())
	assert.Equal(t, 10, buf.Len())

	buf.Add([]byte("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, []byte("qrstuvwxyz"), buf.Data())
	assert.Equal(t, 10, buf.Len())
}

func TestRingBufferPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New(0) })
}
