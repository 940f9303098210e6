package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aukilabs/tsdf/codec"
	"github.com/aukilabs/tsdf/tsdf"
	"github.com/stretchr/testify/require"
)

func TestResolveSettings(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := resolveSettings(config{})
		require.NoError(t, err)
		require.Equal(t, tsdf.DefaultConfig(), s.Field)
		require.Empty(t, s.SnapshotPath)
		require.Equal(t, tsdf.SaveOptions{Compression: codec.Zstd, Precision: tsdf.Float32}, s.SaveOptions)
	})

	t.Run("command line overrides the config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tsdf.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[field]
voxel_size = 0.02
hash_size = 1021

[snapshot]
path = "from-file.tsdf"
compression = "none"
precision = "float16"
`), 0o644))

		s, err := resolveSettings(config{
			ConfigFile:     path,
			ReservedBlocks: 42,
			SnapshotPath:   "from-cli.tsdf",
		})
		require.NoError(t, err)
		require.Equal(t, tsdf.Config{VoxelSize: 0.02, ReservedBlocks: 42, HashSize: 1021}, s.Field)
		require.Equal(t, "from-cli.tsdf", s.SnapshotPath)
		require.Equal(t, tsdf.SaveOptions{Compression: codec.None, Precision: tsdf.Float16}, s.SaveOptions)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := resolveSettings(config{HashSize: -1})
		require.Error(t, err)

		_, err = resolveSettings(config{SnapshotCompression: "rar"})
		require.Error(t, err)

		_, err = resolveSettings(config{ConfigFile: "tsdf.ini"})
		require.Error(t, err)
	})
}
