package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeVersion_RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 2, 255, 4294967296, 18446744073709551615} {
		token := EncodeVersion(v)
		assert.Len(t, token, 8)
		assert.Equal(t, v, DecodeVersion(token))
	}
}

func TestDecodeVersion_MalformedToken(t *testing.T) {
	assert.Equal(t, uint64(0), DecodeVersion(nil))
	assert.Equal(t, uint64(0), DecodeVersion([]byte{}))
	assert.Equal(t, uint64(0), DecodeVersion([]byte{1, 2, 3}))
	assert.Equal(t, uint64(0), DecodeVersion([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}))
}

func TestNextVersion(t *testing.T) {
	token := EncodeVersion(41)
	next := NextVersion(token)
	assert.Equal(t, uint64(42), DecodeVersion(next))

	// original token is untouched by NextVersion
	assert.Equal(t, uint64(41), DecodeVersion(token))
}

func TestNextVersion_FromMalformedToken(t *testing.T) {
	next := NextVersion([]byte{1, 2})
	assert.Equal(t, uint64(1), DecodeVersion(next))
}
