package levels

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/strata/pkg/codec"
	"github.com/cuemby/strata/pkg/comm"
	"github.com/stretchr/testify/require"
)

// TestEncodeL3ThenDecodeWithTwoErasures uses deliberately unequal payload
// lengths across ranks, the normal case for a real job: Matrix.Encode/Decode
// require uniformly sized rows, so EncodeL3/DecodeL3 must pad to the
// group's max (rounded up to blockSize) and the caller must truncate back.
func TestEncodeL3ThenDecodeWithTwoErasures(t *testing.T) {
	k := 4
	const blockSize = 4
	comms := comm.NewLocalGroup(k)
	matrix, err := codec.BuildMatrix(k)
	require.NoError(t, err)

	data := [][]byte{
		{0, 1, 2},
		{1, 2, 3, 4, 5},
		{2, 3},
		{3, 4, 5, 6},
	}

	parity := make([][]byte, k)
	maxFileSize := make([]uint64, k)
	var wg sync.WaitGroup
	for r := 0; r < k; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			p, m, err := EncodeL3(context.Background(), comms[r], 10, matrix, r, blockSize, data[r])
			require.NoError(t, err)
			parity[r] = p
			maxFileSize[r] = m
		}(r)
	}
	wg.Wait()
	for r := 1; r < k; r++ {
		require.Equal(t, maxFileSize[0], maxFileSize[r], "every rank must agree on the padded length")
	}

	// Lose data blocks 0 and 2; recover via surviving data (1,3) and
	// parity (0,2).
	recovered := make([][][]byte, k)
	var wg2 sync.WaitGroup
	for r := 0; r < k; r++ {
		wg2.Add(1)
		go func(r int) {
			defer wg2.Done()
			dataOK := r != 0 && r != 2
			parityOK := r == 0 || r == 2
			var db, pb []byte
			if dataOK {
				db = data[r]
			}
			if parityOK {
				pb = parity[r]
			}
			rec, err := DecodeL3(context.Background(), comms[r], 20, matrix, dataOK, db, parityOK, pb, maxFileSize[r], blockSize)
			require.NoError(t, err)
			recovered[r] = rec
		}(r)
	}
	wg2.Wait()

	for r := 0; r < k; r++ {
		for i := range data {
			require.Equal(t, data[i], recovered[r][i][:len(data[i])], "rank %d should reconstruct data block %d", r, i)
		}
	}
}
