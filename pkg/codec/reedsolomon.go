package codec

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cuemby/strata/pkg/errs"
)

// Matrix builds the generator spec.md §4.1 specifies: a k-row identity
// block (one row per original data block) stacked on a k-row Vandermonde-
// like parity block, giving a (2k x k) matrix over GF(2^16). Rows
// [0,k) reproduce a data block verbatim; rows [k,2k) are parity rows
// whose coefficients are M[i][j] = 1/(i XOR (k+j)).
//
// Any k of the 2k rows form an invertible k x k submatrix (the MDS
// property this construction is chosen for), so any k of the k data
// blocks plus k parity blocks are enough to recover the rest.
type Matrix struct {
	k    int
	rows [][]uint16 // len 2k, each of len k
}

// BuildMatrix constructs the full (2k x k) generator matrix for a group
// of k data blocks producing k parity blocks.
func BuildMatrix(k int) (*Matrix, error) {
	if k <= 0 {
		return nil, fmt.Errorf("codec: group size must be positive, got %d", k)
	}
	if k > fieldMax {
		return nil, fmt.Errorf("codec: group size %d exceeds GF(2^16) capacity", k)
	}
	rows := make([][]uint16, 2*k)
	for i := 0; i < k; i++ {
		row := make([]uint16, k)
		row[i] = 1
		rows[i] = row
	}
	for i := 0; i < k; i++ {
		row := make([]uint16, k)
		for j := 0; j < k; j++ {
			row[j] = gfDiv(1, uint16(i^(k+j)))
		}
		rows[k+i] = row
	}
	return &Matrix{k: k, rows: rows}, nil
}

// K returns the number of original data blocks the matrix was built for.
func (m *Matrix) K() int { return m.k }

// wordsPerBlock returns the number of 16-bit words in a block of blockLen
// bytes; blockLen must be even.
func wordsPerBlock(blockLen int) (int, error) {
	if blockLen%2 != 0 {
		return 0, fmt.Errorf("codec: block length %d must be a multiple of 2 bytes", blockLen)
	}
	return blockLen / 2, nil
}

func blockToWords(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(b[2*i : 2*i+2])
	}
	return words
}

func wordsToBlock(words []uint16) []byte {
	b := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(b[2*i:2*i+2], w)
	}
	return b
}

// Encode computes the k parity blocks for a group of k equally-sized data
// blocks, per the matrix's bottom k rows.
func (m *Matrix) Encode(dataBlocks [][]byte) ([][]byte, error) {
	if len(dataBlocks) != m.k {
		return nil, fmt.Errorf("codec: expected %d data blocks, got %d", m.k, len(dataBlocks))
	}
	blockLen := len(dataBlocks[0])
	for _, b := range dataBlocks {
		if len(b) != blockLen {
			return nil, fmt.Errorf("codec: data blocks must be uniformly sized: %w", errs.SizeMismatch)
		}
	}
	nWords, err := wordsPerBlock(blockLen)
	if err != nil {
		return nil, err
	}

	dataWords := make([][]uint16, m.k)
	for i, b := range dataBlocks {
		dataWords[i] = blockToWords(b)
	}

	parity := make([][]byte, m.k)
	for i := 0; i < m.k; i++ {
		row := m.rows[m.k+i]
		out := make([]uint16, nWords)
		for pos := 0; pos < nWords; pos++ {
			var acc uint16
			for j := 0; j < m.k; j++ {
				acc = gfAdd(acc, gfMul(row[j], dataWords[j][pos]))
			}
			out[pos] = acc
		}
		parity[i] = wordsToBlock(out)
	}
	return parity, nil
}

// Available is one surviving block handed to Decode, identified by its
// global row index in the 2k-row matrix: [0,k) are data blocks, [k,2k) are
// parity blocks.
type Available struct {
	Row   int
	Block []byte
}

// Decode reconstructs all k original data blocks given at least k
// surviving blocks (data and/or parity, in any combination). Extra
// surviving blocks beyond k are ignored. Returns errs.GroupUnrecoverable
// if fewer than k blocks are available.
func (m *Matrix) Decode(available []Available) ([][]byte, error) {
	if len(available) < m.k {
		return nil, fmt.Errorf("codec: need %d surviving blocks, have %d: %w", m.k, len(available), errs.GroupUnrecoverable)
	}
	sorted := append([]Available(nil), available...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Row < sorted[j].Row })
	chosen := sorted[:m.k]

	blockLen := len(chosen[0].Block)
	for _, a := range chosen {
		if len(a.Block) != blockLen {
			return nil, fmt.Errorf("codec: surviving blocks must be uniformly sized: %w", errs.SizeMismatch)
		}
	}
	nWords, err := wordsPerBlock(blockLen)
	if err != nil {
		return nil, err
	}

	sub := make([][]uint16, m.k)
	for i, a := range chosen {
		row := make([]uint16, m.k)
		copy(row, m.rows[a.Row])
		sub[i] = row
	}
	inv, err := invert(sub)
	if err != nil {
		return nil, fmt.Errorf("codec: %w: %w", err, errs.GroupUnrecoverable)
	}

	chosenWords := make([][]uint16, m.k)
	for i, a := range chosen {
		chosenWords[i] = blockToWords(a.Block)
	}

	recovered := make([][]uint16, m.k)
	for o := 0; o < m.k; o++ {
		recovered[o] = make([]uint16, nWords)
	}
	for pos := 0; pos < nWords; pos++ {
		for o := 0; o < m.k; o++ {
			var acc uint16
			for j := 0; j < m.k; j++ {
				acc = gfAdd(acc, gfMul(inv[o][j], chosenWords[j][pos]))
			}
			recovered[o][pos] = acc
		}
	}

	out := make([][]byte, m.k)
	for o, words := range recovered {
		out[o] = wordsToBlock(words)
	}
	return out, nil
}

// invert computes the inverse of a square matrix over GF(2^16) via
// Gauss-Jordan elimination with partial pivoting.
func invert(a [][]uint16) ([][]uint16, error) {
	n := len(a)
	work := make([][]uint16, n)
	inv := make([][]uint16, n)
	for i := range a {
		work[i] = append([]uint16(nil), a[i]...)
		inv[i] = make([]uint16, n)
		inv[i][i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if work[r][col] != 0 {
				pivot = r
				break
			}
		}
		if pivot < 0 {
			return nil, fmt.Errorf("matrix is singular, no recoverable combination of surviving blocks")
		}
		work[col], work[pivot] = work[pivot], work[col]
		inv[col], inv[pivot] = inv[pivot], inv[col]

		scale := gfInv(work[col][col])
		for c := 0; c < n; c++ {
			work[col][c] = gfMul(work[col][c], scale)
			inv[col][c] = gfMul(inv[col][c], scale)
		}

		for r := 0; r < n; r++ {
			if r == col || work[r][col] == 0 {
				continue
			}
			factor := work[r][col]
			for c := 0; c < n; c++ {
				work[r][c] = gfAdd(work[r][c], gfMul(factor, work[col][c]))
				inv[r][c] = gfAdd(inv[r][c], gfMul(factor, inv[col][c]))
			}
		}
	}
	return inv, nil
}
