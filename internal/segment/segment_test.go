package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentDuration(t *testing.T) {
	s := Segment{Kind: Speech, Begin: 10, End: 25.5}
	assert.Equal(t, 15.5, s.Duration())
}

func TestSegmentString(t *testing.T) {
	s := Segment{Kind: Void, Begin: 0, End: 100}
	assert.Equal(t, "void[0,100)", s.String())
}
