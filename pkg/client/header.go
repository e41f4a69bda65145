package client

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/registry"
	"github.com/cuemby/strata/pkg/types"
)

var byteOrder = binary.LittleEndian

// encodeHeader writes h's on-disk layout per spec.md §3/§6: an 8-byte
// region count followed by 12 bytes (4-byte id, 8-byte size) per region.
func encodeHeader(w io.Writer, h types.Header) error {
	if err := binary.Write(w, byteOrder, uint64(len(h.Regions))); err != nil {
		return err
	}
	for _, r := range h.Regions {
		if err := binary.Write(w, byteOrder, r.ID); err != nil {
			return err
		}
		if err := binary.Write(w, byteOrder, r.Size); err != nil {
			return err
		}
	}
	return nil
}

func decodeHeader(r io.Reader) (types.Header, error) {
	var count uint64
	if err := binary.Read(r, byteOrder, &count); err != nil {
		return types.Header{}, fmt.Errorf("reading region count: %w", errs.HeaderCorrupt)
	}
	h := types.Header{Regions: make([]types.RegionHeader, count)}
	for i := range h.Regions {
		if err := binary.Read(r, byteOrder, &h.Regions[i].ID); err != nil {
			return types.Header{}, fmt.Errorf("reading region %d id: %w", i, errs.HeaderCorrupt)
		}
		if err := binary.Read(r, byteOrder, &h.Regions[i].Size); err != nil {
			return types.Header{}, fmt.Errorf("reading region %d size: %w", i, errs.HeaderCorrupt)
		}
	}
	return h, nil
}

// buildCheckpointPayload serializes regions, in selection order, into the
// header-then-concatenated-payloads layout a checkpoint file holds.
func buildCheckpointPayload(regions []registry.Region) ([]byte, error) {
	h := types.Header{Regions: make([]types.RegionHeader, len(regions))}
	for i, r := range regions {
		h.Regions[i] = types.RegionHeader{ID: int32(r.ID()), Size: uint64(r.Size())}
	}
	var buf bytes.Buffer
	if err := encodeHeader(&buf, h); err != nil {
		return nil, err
	}
	for _, r := range regions {
		if _, err := r.WriteTo(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// splitCheckpointPayload parses data's leading header and returns it along
// with the region payload bytes, enforcing spec.md §8's header-consistency
// property: declared sizes must sum to exactly what follows the header.
func splitCheckpointPayload(data []byte) (types.Header, []byte, error) {
	h, err := decodeHeader(bytes.NewReader(data))
	if err != nil {
		return types.Header{}, nil, err
	}
	if int64(len(data)) < h.EncodedSize() {
		return types.Header{}, nil, fmt.Errorf("file shorter than declared header: %w", errs.HeaderCorrupt)
	}
	payload := data[h.EncodedSize():]
	if uint64(len(payload)) != h.PayloadSize() {
		return types.Header{}, nil, fmt.Errorf("header declares %d payload bytes, file has %d: %w", h.PayloadSize(), len(payload), errs.HeaderCorrupt)
	}
	return h, payload, nil
}

// restoreRegions writes payload's bytes back into whichever of h's regions
// appear in selected, in header order; regions the header lists but the
// caller did not select are skipped over (but still counted, to keep later
// offsets correct), so a SOME/REST recover_mem only touches its own subset.
func restoreRegions(h types.Header, payload []byte, selected map[int32]registry.Region) error {
	var offset uint64
	for _, rh := range h.Regions {
		reg, ok := selected[rh.ID]
		if !ok {
			offset += rh.Size
			continue
		}
		if offset+rh.Size > uint64(len(payload)) {
			return fmt.Errorf("region %d extends past payload: %w", rh.ID, errs.HeaderCorrupt)
		}
		if err := reg.ReadFrom(bytes.NewReader(payload[offset:offset+rh.Size]), int64(rh.Size)); err != nil {
			return err
		}
		offset += rh.Size
	}
	return nil
}
