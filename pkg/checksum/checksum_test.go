package checksum

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumIsStableAndMatchesVerify(t *testing.T) {
	data := []byte("reproducible checkpoint payload")
	sum1, err := Sum(bytes.NewReader(data))
	require.NoError(t, err)
	sum2, err := Sum(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, sum1, sum2)

	ok, err := Verify(bytes.NewReader(data), sum1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyDetectsMismatch(t *testing.T) {
	ok, err := Verify(bytes.NewReader([]byte("data")), "0000000000000000000000000000000")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTeeSumComputesWhileWriting(t *testing.T) {
	var buf bytes.Buffer
	w, sum := TeeSum(&buf)
	_, err := w.Write([]byte("streamed bytes"))
	require.NoError(t, err)

	want, err := Sum(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, want, sum())
}
