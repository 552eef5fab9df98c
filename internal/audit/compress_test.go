package audit

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompress_SkipsSmallPayloads(t *testing.T) {
	out, gzipped, err := Compress([]byte("tiny"), 1024)
	require.NoError(t, err)
	require.False(t, gzipped)
	require.Equal(t, []byte("tiny"), out)
}

func TestCompress_CompressesLargePayloads(t *testing.T) {
	payload := []byte(strings.Repeat("audit-event-payload", 200))
	out, gzipped, err := Compress(payload, 100)
	require.NoError(t, err)
	require.True(t, gzipped)
	require.Less(t, len(out), len(payload))

	r, err := gzip.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	roundtrip, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, roundtrip)
}

func TestCompress_FallsBackWhenNotSmaller(t *testing.T) {
	payload := []byte(strings.Repeat("a", 200))
	out, gzipped, err := Compress(payload, 50)
	require.NoError(t, err)
	if gzipped {
		require.Less(t, len(out), len(payload))
	} else {
		require.Equal(t, payload, out)
	}
}
