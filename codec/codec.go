// Package codec compresses and decompresses snapshot payloads.
package codec

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrTypeUnknownCompression is returned for a compression that this
// package does not implement.
const ErrTypeUnknownCompression = "codec-unknown-compression"

// Compression identifies the codec applied to a payload. The values are
// persisted in snapshot headers and must not change.
type Compression uint8

const (
	None Compression = iota
	Zlib
	Zstd
	Snappy
	LZ4
)

// All lists every supported compression.
var All = []Compression{None, Zlib, Zstd, Snappy, LZ4}

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

func (c Compression) Valid() bool {
	return c <= LZ4
}

// ParseCompression returns the compression named s. An empty name is None.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "uncompressed":
		return None, nil
	case "zlib":
		return Zlib, nil
	case "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, errors.New("unknown compression").
			WithType(ErrTypeUnknownCompression).
			WithTag("compression", s)
	}
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCodec returns the shared zstd encoder and decoder. Both are safe for
// concurrent EncodeAll and DecodeAll calls.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

func unknownCompression(c Compression) error {
	return errors.New("unknown compression").
		WithType(ErrTypeUnknownCompression).
		WithTag("compression", uint8(c))
}

// Compress encodes data with c. Empty input encodes to empty output.
func Compress(c Compression, data []byte) ([]byte, error) {
	if !c.Valid() {
		return nil, unknownCompression(c)
	}
	if len(data) == 0 {
		return nil, nil
	}

	switch c {
	case None:
		return data, nil

	case Zlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, errors.New("zlib compression failed").Wrap(err)
		}
		if err := w.Close(); err != nil {
			return nil, errors.New("zlib compression failed").Wrap(err)
		}
		return buf.Bytes(), nil

	case Zstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, errors.New("creating zstd encoder failed").Wrap(err)
		}
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil

	case Snappy:
		return snappy.Encode(nil, data), nil

	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, errors.New("lz4 compression failed").Wrap(err)
		}
		if err := w.Close(); err != nil {
			return nil, errors.New("lz4 compression failed").Wrap(err)
		}
		return buf.Bytes(), nil

	default:
		return nil, unknownCompression(c)
	}
}

// Decompress decodes data that was encoded with c.
func Decompress(c Compression, data []byte) ([]byte, error) {
	if !c.Valid() {
		return nil, unknownCompression(c)
	}
	if len(data) == 0 {
		return nil, nil
	}

	switch c {
	case None:
		return data, nil

	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.New("reading zlib header failed").Wrap(err)
		}
		defer r.Close()

		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.New("zlib decompression failed").Wrap(err)
		}
		return out, nil

	case Zstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, errors.New("creating zstd decoder failed").Wrap(err)
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, errors.New("zstd decompression failed").Wrap(err)
		}
		return out, nil

	case Snappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, errors.New("snappy decompression failed").Wrap(err)
		}
		return out, nil

	case LZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, errors.New("lz4 decompression failed").Wrap(err)
		}
		return out, nil

	default:
		return nil, unknownCompression(c)
	}
}
