// Package errs defines the sentinel error taxonomy shared by every layer of
// strata, from config validation down to the recovery cascade. Callers
// compare with errors.Is; layers wrap with fmt.Errorf("...: %w", Sentinel).
package errs

import "errors"

var (
	// ConfigInvalid is returned when required configuration keys are
	// missing or point at unreadable directories. Fatal at init.
	ConfigInvalid = errors.New("strata: invalid configuration")

	// NameInvalid is returned when a checkpoint name does not match
	// [A-Za-z0-9_]+ or exceeds 128 bytes.
	NameInvalid = errors.New("strata: invalid checkpoint name")

	// VersionInvalid is returned for a negative version. Version order
	// across successive checkpoints of a name is not checked.
	VersionInvalid = errors.New("strata: invalid checkpoint version")

	// NestedCheckpoint is returned when checkpoint_begin is called while
	// a checkpoint or restart window is already open.
	NestedCheckpoint = errors.New("strata: checkpoint already in progress")

	// WrongState is returned for any state-machine violation other than
	// nesting (e.g. recover_mem called outside a restart window).
	WrongState = errors.New("strata: operation invalid in current state")

	// EmptyRegion is returned when a SOME/REST selection resolves to no
	// regions at all.
	EmptyRegion = errors.New("strata: empty region selection")

	// UnknownRegion is returned when a selected region id is not
	// registered in the active scope.
	UnknownRegion = errors.New("strata: unknown region id")

	// SizeMismatch is returned when a target region's capacity is
	// smaller than the size recorded in the checkpoint header.
	SizeMismatch = errors.New("strata: region capacity smaller than recorded size")

	// HeaderCorrupt is returned when a checkpoint file is truncated or
	// its header-declared sizes don't sum to file size minus header size.
	HeaderCorrupt = errors.New("strata: checkpoint header corrupt")

	// ChecksumMismatch is returned when a stored digest does not match
	// recomputed content; treated as an erasure by the affected level.
	ChecksumMismatch = errors.New("strata: checksum mismatch")

	// IOFailure wraps transient filesystem/network errors encountered by
	// a level or storage module; recorded in client status, cascade
	// continues.
	IOFailure = errors.New("strata: io failure")

	// GroupUnrecoverable is returned by a level's rebuild path when the
	// number/pattern of erasures exceeds what that level can tolerate.
	GroupUnrecoverable = errors.New("strata: group unrecoverable at this level")

	// QueueFailure is returned on transport errors between a client and
	// its backend worker. Fatal to the owning process.
	QueueFailure = errors.New("strata: request queue failure")

	// Unsupported is returned by an IO mode or transport slot that spec.md
	// names but leaves to an external substrate this module does not
	// implement (e.g. IO_MODE_MPI, IO_MODE_LIBRARY).
	Unsupported = errors.New("strata: unsupported mode")
)

// Fatal reports whether err belongs to one of the two error classes that
// §7 specifies as process-fatal: a bad configuration or a broken queue
// transport. Callers typically route Fatal errors to a process-level
// fatal hook instead of returning FAILURE to the application.
func Fatal(err error) bool {
	return errors.Is(err, ConfigInvalid) || errors.Is(err, QueueFailure)
}
