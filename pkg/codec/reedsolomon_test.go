package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleBlocks(k, blockLen int) [][]byte {
	blocks := make([][]byte, k)
	for i := range blocks {
		b := make([]byte, blockLen)
		for j := range b {
			b[j] = byte((i*31 + j*7) % 256)
		}
		blocks[i] = b
	}
	return blocks
}

func TestEncodeDecodeNoErasures(t *testing.T) {
	m, err := BuildMatrix(4)
	require.NoError(t, err)

	data := sampleBlocks(4, 16)
	parity, err := m.Encode(data)
	require.NoError(t, err)
	require.Len(t, parity, 4)

	avail := make([]Available, 0, 4)
	for i, b := range data {
		avail = append(avail, Available{Row: i, Block: b})
	}
	recovered, err := m.Decode(avail)
	require.NoError(t, err)
	require.Equal(t, data, recovered)
}

func TestDecodeFromParityOnly(t *testing.T) {
	m, err := BuildMatrix(3)
	require.NoError(t, err)

	data := sampleBlocks(3, 8)
	parity, err := m.Encode(data)
	require.NoError(t, err)

	avail := make([]Available, 0, 3)
	for i, b := range parity {
		avail = append(avail, Available{Row: m.K() + i, Block: b})
	}
	recovered, err := m.Decode(avail)
	require.NoError(t, err)
	require.Equal(t, data, recovered)
}

func TestDecodeFromMixedSurvivors(t *testing.T) {
	m, err := BuildMatrix(5)
	require.NoError(t, err)

	data := sampleBlocks(5, 32)
	parity, err := m.Encode(data)
	require.NoError(t, err)

	// Lose data blocks 1 and 3; recover using the rest plus two parities.
	avail := []Available{
		{Row: 0, Block: data[0]},
		{Row: 2, Block: data[2]},
		{Row: 4, Block: data[4]},
		{Row: 5, Block: parity[0]}, // row k+0
		{Row: 7, Block: parity[2]}, // row k+2
	}
	recovered, err := m.Decode(avail)
	require.NoError(t, err)
	require.Equal(t, data, recovered)
}

func TestDecodeInsufficientSurvivorsFails(t *testing.T) {
	m, err := BuildMatrix(4)
	require.NoError(t, err)

	data := sampleBlocks(4, 8)
	_, err = m.Encode(data)
	require.NoError(t, err)

	avail := []Available{{Row: 0, Block: data[0]}, {Row: 1, Block: data[1]}}
	_, err = m.Decode(avail)
	require.Error(t, err)
}

func TestEncodeRejectsMismatchedBlockSizes(t *testing.T) {
	m, err := BuildMatrix(2)
	require.NoError(t, err)

	data := [][]byte{make([]byte, 4), make([]byte, 6)}
	_, err = m.Encode(data)
	require.Error(t, err)
}
