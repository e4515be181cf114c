package codec_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/duckyoo9/fileduck/internal/pkg/codec"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressTransparency(t *testing.T) {
	c := codec.NewCompressor(1, 0.05)

	data := bytes.Repeat([]byte("fileduck"), 4096)
	out, err := c.Compress(data)
	require.NoError(t, err)
	require.Less(t, len(out), len(data))

	back, err := c.Decompress(out)
	require.NoError(t, err)
	require.Equal(t, data, back)
}

func TestDecompressMalformedInput(t *testing.T) {
	c := codec.NewCompressor(1, 0.05)

	_, err := c.Decompress([]byte("definitely not a zlib stream"))
	require.ErrorIs(t, err, xerr.ErrDecodeError)
}

func TestCompressIfWorthwhile(t *testing.T) {
	t.Run("below threshold keeps original", func(t *testing.T) {
		c := codec.NewCompressor(1024, 0.05)
		data := bytes.Repeat([]byte{0}, 100)

		out, compressed, err := c.CompressIfWorthwhile(data)
		require.NoError(t, err)
		require.False(t, compressed)
		require.Equal(t, data, out)
	})

	t.Run("incompressible content keeps original", func(t *testing.T) {
		// 随机字节基本不可压缩,收益达不到5%
		c := codec.NewCompressor(16, 0.05)
		data := make([]byte, 64*1024)
		_, err := rand.Read(data)
		require.NoError(t, err)

		out, compressed, err := c.CompressIfWorthwhile(data)
		require.NoError(t, err)
		require.False(t, compressed)
		require.Equal(t, data, out)
	})

	t.Run("repetitive content gets compressed", func(t *testing.T) {
		c := codec.NewCompressor(16, 0.05)
		data := bytes.Repeat([]byte{0}, 64*1024)

		out, compressed, err := c.CompressIfWorthwhile(data)
		require.NoError(t, err)
		require.True(t, compressed)
		require.Less(t, len(out), len(data))

		back, err := c.Decompress(out)
		require.NoError(t, err)
		require.Equal(t, data, back)
	})
}
