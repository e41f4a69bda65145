// Package queue implements the backend request transport of spec.md
// §4.1 component 7 / §6: a Unix domain socket carrying fixed-size Command
// records, a single worker pool multiplexing whichever client's command
// arrives next, and the enqueue/wait_completion producer API async-mode
// clients use. There is no RPC framework here on purpose — see
// DESIGN.md's dropped-dependencies entry for why gRPC was not wired to
// this boundary: the wire format is specified down to fixed-size records,
// which forecloses a generated-service layer.
package queue

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/strata/pkg/types"
)

const (
	uniqueIDLen = 36 // canonical UUID string length
	kindLen     = 4
	versionLen  = 4
	offsetLen   = 8

	// recordLen is the fixed wire size of one Command record.
	recordLen = uniqueIDLen + kindLen + versionLen + types.CommandRecordNameLen + types.CommandRecordPathLen + offsetLen

	// resultLen is the fixed wire size of one Result reply.
	resultLen = 4
)

func putFixedString(dst []byte, s string) error {
	if len(s) > len(dst) {
		return fmt.Errorf("queue: string %q exceeds field width %d", s, len(dst))
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
	return nil
}

func getFixedString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

// EncodeCommand renders cmd as a fixed-size wire record.
func EncodeCommand(cmd types.Command) ([]byte, error) {
	buf := make([]byte, recordLen)
	off := 0

	if err := putFixedString(buf[off:off+uniqueIDLen], cmd.UniqueID); err != nil {
		return nil, err
	}
	off += uniqueIDLen

	binary.BigEndian.PutUint32(buf[off:], uint32(cmd.Kind))
	off += kindLen

	binary.BigEndian.PutUint32(buf[off:], uint32(cmd.Version))
	off += versionLen

	if err := putFixedString(buf[off:off+types.CommandRecordNameLen], cmd.Name); err != nil {
		return nil, err
	}
	off += types.CommandRecordNameLen

	if err := putFixedString(buf[off:off+types.CommandRecordPathLen], cmd.Path); err != nil {
		return nil, err
	}
	off += types.CommandRecordPathLen

	binary.BigEndian.PutUint64(buf[off:], cmd.Offset)

	return buf, nil
}

// DecodeCommand parses a fixed-size wire record back into a Command.
func DecodeCommand(buf []byte) (types.Command, error) {
	if len(buf) != recordLen {
		return types.Command{}, fmt.Errorf("queue: command record must be %d bytes, got %d", recordLen, len(buf))
	}
	off := 0
	cmd := types.Command{}

	cmd.UniqueID = getFixedString(buf[off : off+uniqueIDLen])
	off += uniqueIDLen

	cmd.Kind = types.CommandKind(binary.BigEndian.Uint32(buf[off:]))
	off += kindLen

	cmd.Version = int32(binary.BigEndian.Uint32(buf[off:]))
	off += versionLen

	cmd.Name = getFixedString(buf[off : off+types.CommandRecordNameLen])
	off += types.CommandRecordNameLen

	cmd.Path = getFixedString(buf[off : off+types.CommandRecordPathLen])
	off += types.CommandRecordPathLen

	cmd.Offset = binary.BigEndian.Uint64(buf[off:])

	return cmd, nil
}

// WriteCommand writes cmd's wire record to w.
func WriteCommand(w io.Writer, cmd types.Command) error {
	buf, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadCommand reads one wire record from r and decodes it.
func ReadCommand(r io.Reader) (types.Command, error) {
	buf := make([]byte, recordLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return types.Command{}, err
	}
	return DecodeCommand(buf)
}

// WriteResult writes a Result reply to w.
func WriteResult(w io.Writer, result types.Result) error {
	buf := make([]byte, resultLen)
	binary.BigEndian.PutUint32(buf, uint32(int32(result)))
	_, err := w.Write(buf)
	return err
}

// ReadResult reads a Result reply from r.
func ReadResult(r io.Reader) (types.Result, error) {
	buf := make([]byte, resultLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return types.Result(int32(binary.BigEndian.Uint32(buf))), nil
}
