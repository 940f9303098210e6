package tsdf

const (
	// ErrTypeCapacityExceeded is returned by parallel insertion when the
	// reserved capacity cannot hold every requested block.
	ErrTypeCapacityExceeded = "tsdf-capacity-exceeded"

	// ErrTypeMalformedSnapshot is returned when a snapshot cannot be decoded.
	ErrTypeMalformedSnapshot = "tsdf-malformed-snapshot"

	// ErrTypeSnapshotIO is returned when a snapshot cannot be read or written.
	ErrTypeSnapshotIO = "tsdf-snapshot-io"
)
