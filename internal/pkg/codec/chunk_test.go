package codec_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/duckyoo9/fileduck/internal/pkg/codec"
	"github.com/stretchr/testify/require"
)

func TestSplitJoinRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		size      int
		chunkSize int64
		wantParts int
	}{
		{"empty input still yields one part", 0, 16, 1},
		{"smaller than chunk", 10, 16, 1},
		{"exactly chunk size stays single part", 16, 16, 1},
		{"one byte over chunk size", 17, 16, 2},
		{"multiple chunks", 100, 16, 7},
		{"chunk size one", 5, 1, 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			data := make([]byte, tc.size)
			_, err := rand.Read(data)
			require.NoError(t, err)

			// when
			parts, err := codec.Split(data, tc.chunkSize)
			require.NoError(t, err)

			// then
			require.Len(t, parts, tc.wantParts)
			for _, p := range parts {
				require.LessOrEqual(t, int64(len(p)), tc.chunkSize)
			}
			require.True(t, bytes.Equal(data, codec.Join(parts)))
		})
	}
}

func TestSplitRejectsInvalidChunkSize(t *testing.T) {
	_, err := codec.Split([]byte("abc"), 0)
	require.ErrorIs(t, err, codec.ErrInvalidChunkSize)

	_, err = codec.Split([]byte("abc"), -1)
	require.ErrorIs(t, err, codec.ErrInvalidChunkSize)
}
