package transport

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() params {
	return params{
		minSpeechDuration:  5,
		maxSegmentDuration: 60,
		numChannels:        1,
		sampleRate:         16000,
		sampleType:         "i16",
		windowDuration:     5,
	}
}

func TestParseQueryDefaultsWindowDuration(t *testing.T) {
	q, err := url.ParseQuery("minsd=5&maxsd=60&nc=1&sr=16000&st=i16")
	require.NoError(t, err)

	p, err := parseQuery(q)
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.windowDuration)
}

func TestParseQueryMissingRequiredParam(t *testing.T) {
	q, err := url.ParseQuery("maxsd=60&nc=1&sr=16000&st=i16")
	require.NoError(t, err)

	_, err = parseQuery(q)
	assert.Error(t, err)
}

func TestValidateAcceptsInRangeParams(t *testing.T) {
	_, _, ok := validParams().validate()
	assert.True(t, ok)
}

func TestValidateOrderMinsdBeforeMaxsd(t *testing.T) {
	p := validParams()
	p.minSpeechDuration = 0
	p.maxSegmentDuration = 1000

	_, reason, ok := p.validate()
	assert.False(t, ok)
	assert.Contains(t, reason, "minsd")
}

func TestValidateOrderMinsdGreaterThanMaxsdAfterRangeChecks(t *testing.T) {
	p := validParams()
	p.minSpeechDuration = 50
	p.maxSegmentDuration = 20

	_, reason, ok := p.validate()
	assert.False(t, ok)
	assert.Equal(t, "'minsd' greater than 'maxsd'", reason)
}

func TestValidateRejectsChannelsOutOfRange(t *testing.T) {
	p := validParams()
	p.numChannels = 9

	_, reason, ok := p.validate()
	assert.False(t, ok)
	assert.Contains(t, reason, "nc")
}

func TestValidateRejectsSampleRateOutOfRange(t *testing.T) {
	p := validParams()
	p.sampleRate = 1000

	_, reason, ok := p.validate()
	assert.False(t, ok)
	assert.Contains(t, reason, "sr")
}

func TestValidateRejectsUnknownSampleType(t *testing.T) {
	p := validParams()
	p.sampleType = "u8"

	_, reason, ok := p.validate()
	assert.False(t, ok)
	assert.Contains(t, reason, "st")
}

func TestValidateRejectsWindowDurationOutOfRange(t *testing.T) {
	p := validParams()
	p.windowDuration = 20

	_, reason, ok := p.validate()
	assert.False(t, ok)
	assert.Contains(t, reason, "wd")
}
