package client

import (
	"testing"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/registry"
	"github.com/stretchr/testify/require"
)

func TestSplitCheckpointPayloadRoundTrip(t *testing.T) {
	regions := []registry.Region{
		registry.NewRaw(0, []byte{1, 2, 3}),
		registry.NewRaw(1, []byte{4, 5}),
	}
	data, err := buildCheckpointPayload(regions)
	require.NoError(t, err)

	h, payload, err := splitCheckpointPayload(data)
	require.NoError(t, err)
	require.Len(t, h.Regions, 2)
	require.EqualValues(t, 3, h.Regions[0].Size)
	require.EqualValues(t, 2, h.Regions[1].Size)
	require.Len(t, payload, 5)
}

func TestSplitCheckpointPayloadRejectsTruncatedFile(t *testing.T) {
	regions := []registry.Region{registry.NewRaw(0, []byte{1, 2, 3, 4})}
	data, err := buildCheckpointPayload(regions)
	require.NoError(t, err)

	// chop off the last two payload bytes, leaving the header's declared
	// size inconsistent with what actually follows it.
	truncated := data[:len(data)-2]
	_, _, err = splitCheckpointPayload(truncated)
	require.ErrorIs(t, err, errs.HeaderCorrupt)
}

func TestSplitCheckpointPayloadRejectsShorterThanHeader(t *testing.T) {
	regions := []registry.Region{registry.NewRaw(0, []byte{1, 2, 3, 4})}
	data, err := buildCheckpointPayload(regions)
	require.NoError(t, err)

	// cut into the header itself (8-byte count + 12 bytes/region).
	_, _, err = splitCheckpointPayload(data[:4])
	require.ErrorIs(t, err, errs.HeaderCorrupt)
}

func TestSplitCheckpointPayloadRejectsOversizedFile(t *testing.T) {
	regions := []registry.Region{registry.NewRaw(0, []byte{1, 2, 3, 4})}
	data, err := buildCheckpointPayload(regions)
	require.NoError(t, err)

	// extra trailing bytes the header never declared.
	padded := append(data, 0xff, 0xff)
	_, _, err = splitCheckpointPayload(padded)
	require.ErrorIs(t, err, errs.HeaderCorrupt)
}
