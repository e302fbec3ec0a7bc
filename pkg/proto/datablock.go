package proto

import (
	"github.com/mycofs/mycofs/pkg/errors"
	"github.com/pierrec/lz4/v4"
)

// Codec tags how the bytes inside a DataBlock are encoded.
type Codec int32

const (
	CodecNone Codec = iota
	CodecLZ4
)

// CompressThreshold is the payload size at or below which compression is
// never attempted; tiny chunks of data are not worth the codec overhead.
const CompressThreshold = 100

// DataBlock is the opaque payload record of read/write operations. It owns
// its buffer: Set copies the caller's bytes, Get hands out fresh copies.
type DataBlock struct {
	// UncompressedSize is the length of the payload before compression.
	UncompressedSize int
	Codec            Codec

	buf []byte
}

// Set stores a copy of data in the block, compressing it with the requested
// codec. Payloads at or below CompressThreshold, and payloads LZ4 cannot
// shrink, are stored raw with CodecNone.
func (db *DataBlock) Set(data []byte, requested Codec) error {
	db.UncompressedSize = len(data)

	if requested == CodecLZ4 && len(data) > CompressThreshold {
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		var c lz4.Compressor
		n, err := c.CompressBlock(data, dst)
		if err == nil && n > 0 && n < len(data) {
			db.Codec = CodecLZ4
			db.buf = dst[:n]
			return nil
		}
		// incompressible or failed, fall back to raw
	}

	db.Codec = CodecNone
	db.buf = append([]byte(nil), data...)
	return nil
}

// SetRaw adopts already-encoded bytes as received from the wire.
func (db *DataBlock) SetRaw(buf []byte, size int, codec Codec) {
	db.buf = buf
	db.UncompressedSize = size
	db.Codec = codec
}

// Payload returns the stored (possibly compressed) bytes.
func (db *DataBlock) Payload() []byte { return db.buf }

// Get returns a freshly allocated copy of the uncompressed payload.
func (db *DataBlock) Get() ([]byte, error) {
	dst := make([]byte, db.UncompressedSize)
	n, err := db.GetInto(dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// GetInto decompresses the payload into dst, which must hold at least
// UncompressedSize bytes, and returns the number of bytes written.
func (db *DataBlock) GetInto(dst []byte) (int, error) {
	if len(dst) < db.UncompressedSize {
		return 0, errors.Errorf(
			"data block needs %d bytes, buffer holds %d", db.UncompressedSize, len(dst))
	}

	switch db.Codec {
	case CodecNone:
		if len(db.buf) != db.UncompressedSize {
			return 0, errors.Errorf(
				"raw data block length %d does not match recorded size %d",
				len(db.buf), db.UncompressedSize)
		}
		return copy(dst, db.buf), nil

	case CodecLZ4:
		n, err := lz4.UncompressBlock(db.buf, dst[:db.UncompressedSize])
		if err != nil {
			return 0, errors.Wrap(err, "lz4 decompression failed")
		}
		if n != db.UncompressedSize {
			return 0, errors.Errorf(
				"lz4 block decompressed to %d bytes, expected %d", n, db.UncompressedSize)
		}
		return n, nil

	default:
		return 0, errors.Errorf("unsupported data block codec %d", db.Codec)
	}
}
