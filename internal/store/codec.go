package store

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Envelope layout: magic, format version, flags, body.
const (
	envelopeMagic   byte = 'G'
	envelopeVersion byte = 1
	flagZstd        byte = 1 << 0
	headerLen            = 3
)

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// encodeEnvelope wraps payload, compressing it when compress is set.
func encodeEnvelope(payload []byte, compress bool) ([]byte, error) {
	if !compress {
		out := make([]byte, 0, headerLen+len(payload))
		out = append(out, envelopeMagic, envelopeVersion, 0)
		return append(out, payload...), nil
	}
	enc, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	out := make([]byte, headerLen, headerLen+len(payload)/2)
	out[0], out[1], out[2] = envelopeMagic, envelopeVersion, flagZstd
	return enc.EncodeAll(payload, out), nil
}

// checkEnvelope validates the header without touching the body.
func checkEnvelope(data []byte) error {
	if len(data) < headerLen || data[0] != envelopeMagic {
		return fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if data[1] != envelopeVersion {
		return fmt.Errorf("%w: format version %d", ErrCorrupt, data[1])
	}
	if data[2]&^flagZstd != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrCorrupt, data[2])
	}
	return nil
}

// decodeEnvelope returns the caller payload stored in data.
func decodeEnvelope(data []byte) ([]byte, error) {
	if err := checkEnvelope(data); err != nil {
		return nil, err
	}
	body := data[headerLen:]
	if data[2]&flagZstd == 0 {
		return append([]byte(nil), body...), nil
	}
	dec, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}
