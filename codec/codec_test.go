package codec

import (
	"bytes"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCompression(t *testing.T) {
	payload := bytes.Repeat([]byte("signed distance field "), 512)

	for _, c := range All {
		t.Run(c.String()+" round trip", func(t *testing.T) {
			compressed, err := Compress(c, payload)
			require.NoError(t, err)
			if c != None {
				require.Less(t, len(compressed), len(payload))
			}

			decompressed, err := Decompress(c, compressed)
			require.NoError(t, err)
			require.Equal(t, payload, decompressed)
		})
	}

	t.Run("empty payload", func(t *testing.T) {
		for _, c := range All {
			compressed, err := Compress(c, nil)
			require.NoError(t, err)

			decompressed, err := Decompress(c, compressed)
			require.NoError(t, err)
			require.Empty(t, decompressed)
		}
	})

	t.Run("corrupted payload", func(t *testing.T) {
		for _, c := range []Compression{Zlib, Zstd, Snappy} {
			_, err := Decompress(c, []byte("definitely not compressed"))
			require.Error(t, err)
		}
	})

	t.Run("unknown compression", func(t *testing.T) {
		_, err := Compress(Compression(42), payload)
		require.True(t, errors.IsType(err, ErrTypeUnknownCompression))

		_, err = Decompress(Compression(42), payload)
		require.True(t, errors.IsType(err, ErrTypeUnknownCompression))
		require.False(t, Compression(42).Valid())
	})
}

func TestParseCompression(t *testing.T) {
	for _, c := range All {
		parsed, err := ParseCompression(c.String())
		require.NoError(t, err)
		require.Equal(t, c, parsed)
	}

	c, err := ParseCompression("")
	require.NoError(t, err)
	require.Equal(t, None, c)

	_, err = ParseCompression("brotli")
	require.Error(t, err)
	require.Equal(t, ErrTypeUnknownCompression, errors.Type(err))
}
