package featureflag

type Flag string

const (
	// FlagReadOnly rejects every request that mutates the field.
	FlagReadOnly Flag = "READ_ONLY"

	// FlagDisableMeshExtraction turns off the mesh endpoint.
	FlagDisableMeshExtraction Flag = "DISABLE_MESH_EXTRACTION"

	// FlagSkipSnapshotOnShutdown keeps the snapshot on disk untouched when
	// the server stops.
	FlagSkipSnapshotOnShutdown Flag = "SKIP_SNAPSHOT_ON_SHUTDOWN"
)
