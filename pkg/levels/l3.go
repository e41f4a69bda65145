package levels

import (
	"context"
	"fmt"

	"github.com/cuemby/strata/pkg/codec"
	"github.com/cuemby/strata/pkg/comm"
)

// roundUpBlockSize rounds n up to the next multiple of blockSize. n==0 or a
// non-positive blockSize round-trip unchanged.
func roundUpBlockSize(n, blockSize int) int {
	if blockSize <= 0 || n == 0 {
		return n
	}
	if rem := n % blockSize; rem != 0 {
		n += blockSize - rem
	}
	return n
}

// padBlock returns b zero-extended to length n. b is returned unchanged if
// it is already at least n bytes.
func padBlock(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	padded := make([]byte, n)
	copy(padded, b)
	return padded
}

// EncodeL3 computes this rank's Reed-Solomon parity block for the group,
// per spec.md §4.1 component 5. Every rank in the group calls this with
// its own data block; matrix must have been built with k == the group's
// size. Group members rarely hold equal-length payloads, but Matrix.Encode
// requires uniformly sized rows, so every gathered block is first
// zero-padded to the group's maximum length, then further padded up to a
// multiple of blockSize. All ranks gather the full set of data blocks and
// each independently computes the full parity set, keeping only the row
// that corresponds to its own group rank — redundant work traded for not
// needing a second communication round to scatter results. The returned
// maxFileSize is the padded length every block (data and parity alike) was
// brought to, recorded by the caller so DecodeL3 can reverse the padding.
func EncodeL3(ctx context.Context, c comm.Communicator, tag int, matrix *codec.Matrix, groupRank int, blockSize int, myBlock []byte) (myParity []byte, maxFileSize uint64, err error) {
	gathered, err := c.AllGather(ctx, tag, myBlock)
	if err != nil {
		return nil, 0, fmt.Errorf("l3: gathering group data blocks: %w", err)
	}

	maxLen := 0
	for _, b := range gathered {
		if len(b) > maxLen {
			maxLen = len(b)
		}
	}
	padded := roundUpBlockSize(maxLen, blockSize)
	blocks := make([][]byte, len(gathered))
	for i, b := range gathered {
		blocks[i] = padBlock(b, padded)
	}

	parity, err := matrix.Encode(blocks)
	if err != nil {
		return nil, 0, fmt.Errorf("l3: encoding parity: %w", err)
	}
	return parity[groupRank], uint64(padded), nil
}

// DecodeL3 reconstructs the full group's data blocks from whatever data
// and parity blocks survive, per spec.md §4.1 component 5. Every rank
// calls this with its own data/parity availability; all ranks gather the
// full erasure pattern and each independently runs the same decode, then
// keeps only the row(s) it actually needed. localMaxFileSize is this
// rank's own locally-recorded padded block length from the matching
// EncodeL3 call (0 if unknown); the group folds these with AllReduceMax so
// a rank whose own record was lost along with its scratch data still
// learns the padded length the surviving blocks were encoded at, and can
// pad its own surviving data block up to match before decoding. Returns
// errs.GroupUnrecoverable (via Matrix.Decode) if fewer than k blocks
// survive across the whole group. Recovered rows come back at the padded
// length; callers truncate to each rank's own recorded original size.
func DecodeL3(ctx context.Context, c comm.Communicator, tag int, matrix *codec.Matrix, dataOK bool, dataBlock []byte, parityOK bool, parityBlock []byte, localMaxFileSize uint64, blockSize int) ([][]byte, error) {
	dataFlags, err := gatherFlags(ctx, c, tag, dataOK)
	if err != nil {
		return nil, fmt.Errorf("l3: gathering data availability: %w", err)
	}
	parityFlags, err := gatherFlags(ctx, c, tag+2, parityOK)
	if err != nil {
		return nil, fmt.Errorf("l3: gathering parity availability: %w", err)
	}
	groupMax, err := c.AllReduceMax(ctx, tag+4, int(localMaxFileSize))
	if err != nil {
		return nil, fmt.Errorf("l3: agreeing on padded block length: %w", err)
	}
	padded := roundUpBlockSize(groupMax, blockSize)

	if dataOK {
		dataBlock = padBlock(dataBlock, padded)
	}
	if parityOK {
		parityBlock = padBlock(parityBlock, padded)
	}

	dataBlocks, err := c.AllGather(ctx, tag+1, dataBlock)
	if err != nil {
		return nil, fmt.Errorf("l3: gathering data blocks: %w", err)
	}
	parityBlocks, err := c.AllGather(ctx, tag+3, parityBlock)
	if err != nil {
		return nil, fmt.Errorf("l3: gathering parity blocks: %w", err)
	}

	k := matrix.K()
	var avail []codec.Available
	for r := 0; r < k; r++ {
		if dataFlags[r] {
			avail = append(avail, codec.Available{Row: r, Block: padBlock(dataBlocks[r], padded)})
		}
	}
	for r := 0; r < k; r++ {
		if parityFlags[r] {
			avail = append(avail, codec.Available{Row: k + r, Block: padBlock(parityBlocks[r], padded)})
		}
	}
	return matrix.Decode(avail)
}
