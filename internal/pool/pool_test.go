package pool

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestGzipReader_Reuse(t *testing.T) {
	for _, want := range []string{"first file\n", "second file\n"} {
		zr, err := GetGzipReader(bytes.NewReader(gz(t, want)))
		require.NoError(t, err)

		got, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))

		PutGzipReader(zr)
	}
}

func TestGzipReader_NotGzip(t *testing.T) {
	_, err := GetGzipReader(bytes.NewReader([]byte("plain text")))
	assert.Error(t, err)
}

func TestBody_ResetOnGet(t *testing.T) {
	buf := GetBody()
	buf.WriteString("leftover")
	PutBody(buf)

	assert.Zero(t, GetBody().Len())
}
