package encoding

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Frames smaller than this are stored raw; zstd overhead outweighs the gain.
const compressThreshold = 256

const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

var (
	encoderPool = sync.Pool{
		New: func() interface{} {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
			if err != nil {
				panic(fmt.Sprintf("zstd encoder: %v", err))
			}
			return enc
		},
	}
	decoderPool = sync.Pool{
		New: func() interface{} {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				panic(fmt.Sprintf("zstd decoder: %v", err))
			}
			return dec
		},
	}
)

// MarshalCompressed encodes v with msgpack and prefixes a one byte frame
// marker, compressing the payload with zstd when it is large enough.
func MarshalCompressed(v interface{}) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	if len(raw) < compressThreshold {
		return append([]byte{frameRaw}, raw...), nil
	}

	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)

	out := make([]byte, 1, len(raw)/2+1)
	out[0] = frameZstd
	return enc.EncodeAll(raw, out), nil
}

// UnmarshalCompressed reverses MarshalCompressed.
func UnmarshalCompressed(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty frame")
	}

	switch data[0] {
	case frameRaw:
		return Unmarshal(data[1:], v)
	case frameZstd:
		dec := decoderPool.Get().(*zstd.Decoder)
		defer decoderPool.Put(dec)

		raw, err := dec.DecodeAll(data[1:], nil)
		if err != nil {
			return fmt.Errorf("zstd decode: %w", err)
		}
		return Unmarshal(raw, v)
	default:
		return fmt.Errorf("unknown frame marker %d", data[0])
	}
}
