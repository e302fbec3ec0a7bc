package proto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compressible returns n bytes of a repeating pattern LZ4 shrinks well.
func compressible(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 16)
	}
	return buf
}

func TestDataBlockRawRoundTrip(t *testing.T) {
	payload := compressible(2048)

	db := &DataBlock{}
	require.NoError(t, db.Set(payload, CodecNone))
	assert.Equal(t, CodecNone, db.Codec)
	assert.Equal(t, len(payload), db.UncompressedSize)

	out, err := db.Get()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, out))
}

func TestDataBlockLZ4RoundTrip(t *testing.T) {
	payload := compressible(2048)

	db := &DataBlock{}
	require.NoError(t, db.Set(payload, CodecLZ4))
	assert.Equal(t, CodecLZ4, db.Codec)
	assert.Equal(t, len(payload), db.UncompressedSize)
	assert.Less(t, len(db.Payload()), len(payload), "pattern data must compress")

	out, err := db.Get()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, out))
}

func TestDataBlockOwnsItsBuffer(t *testing.T) {
	payload := []byte("mutate me after set, the block must not care")

	db := &DataBlock{}
	require.NoError(t, db.Set(payload, CodecNone))
	payload[0] = 'X'

	out, err := db.Get()
	require.NoError(t, err)
	assert.Equal(t, byte('m'), out[0])
}

func TestDataBlockSmallPayloadStaysRaw(t *testing.T) {
	payload := compressible(CompressThreshold)

	db := &DataBlock{}
	require.NoError(t, db.Set(payload, CodecLZ4))
	assert.Equal(t, CodecNone, db.Codec, "payloads at the threshold are stored raw")

	out, err := db.Get()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, out))
}

func TestDataBlockIncompressibleFallsBack(t *testing.T) {
	// no byte repeats within the lz4 window start, so compression cannot win
	payload := make([]byte, 512)
	state := uint32(0x2545f491)
	for i := range payload {
		state = state*1664525 + 1013904223
		payload[i] = byte(state >> 24)
	}

	db := &DataBlock{}
	require.NoError(t, db.Set(payload, CodecLZ4))
	assert.Equal(t, CodecNone, db.Codec, "incompressible payloads are stored raw")

	out, err := db.Get()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, out))
}

func TestDataBlockGetIntoExactCount(t *testing.T) {
	payload := compressible(1500)

	db := &DataBlock{}
	require.NoError(t, db.Set(payload, CodecLZ4))

	dst := make([]byte, 4096)
	n, err := db.GetInto(dst)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.True(t, bytes.Equal(payload, dst[:n]))
}

func TestDataBlockGetIntoShortBuffer(t *testing.T) {
	db := &DataBlock{}
	require.NoError(t, db.Set(compressible(1024), CodecLZ4))

	_, err := db.GetInto(make([]byte, 512))
	assert.Error(t, err)
}

func TestDataBlockCorruptLengthRejected(t *testing.T) {
	db := &DataBlock{}
	db.SetRaw([]byte("abc"), 99, CodecNone)
	_, err := db.Get()
	assert.Error(t, err)

	db = &DataBlock{}
	db.SetRaw([]byte{0xff, 0x01, 0x02}, 1024, CodecLZ4)
	_, err = db.Get()
	assert.Error(t, err)
}

func TestDataBlockEmpty(t *testing.T) {
	db := &DataBlock{}
	require.NoError(t, db.Set(nil, CodecLZ4))
	assert.Equal(t, CodecNone, db.Codec)
	assert.Equal(t, 0, db.UncompressedSize)

	out, err := db.Get()
	require.NoError(t, err)
	assert.Len(t, out, 0)
}
