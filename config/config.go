// Package config reads field settings from TOML or YAML files.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/tsdf/codec"
	"github.com/aukilabs/tsdf/tsdf"
	"gopkg.in/yaml.v3"
)

const (
	ErrTypeUnsupportedFormat = "config-unsupported-format"
	ErrTypeInvalid           = "config-invalid"
)

// File is the content of a configuration file.
//
//	[field]
//	voxel_size = 0.01
//	reserved_blocks = 1000
//	hash_size = 100000
//
//	[snapshot]
//	path = "field.tsdf"
//	compression = "zstd"
//	precision = "float16"
type File struct {
	Field    tsdf.Config `toml:"field"    yaml:"field"`
	Snapshot Snapshot    `toml:"snapshot" yaml:"snapshot"`
}

// Snapshot describes where and how the field is persisted.
type Snapshot struct {
	Path        string `toml:"path"        yaml:"path"`
	Compression string `toml:"compression" yaml:"compression"`
	Precision   string `toml:"precision"   yaml:"precision"`
}

// SaveOptions parses the compression and precision names.
func (s Snapshot) SaveOptions() (tsdf.SaveOptions, error) {
	c, err := codec.ParseCompression(s.Compression)
	if err != nil {
		return tsdf.SaveOptions{}, errors.New("invalid snapshot compression").
			WithType(ErrTypeInvalid).
			Wrap(err)
	}

	p, err := tsdf.ParsePrecision(s.Precision)
	if err != nil {
		return tsdf.SaveOptions{}, errors.New("invalid snapshot precision").
			WithType(ErrTypeInvalid).
			Wrap(err)
	}

	return tsdf.SaveOptions{Compression: c, Precision: p}, nil
}

// Load reads the file at path. The format is picked from the extension:
// .toml, .yaml or .yml. Unset field parameters take their defaults.
func Load(path string) (File, error) {
	var f File
	var err error

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		_, err = toml.DecodeFile(path, &f)

	case ".yaml", ".yml":
		err = decodeYAML(path, &f)

	default:
		return File{}, errors.New("unsupported config file format").
			WithType(ErrTypeUnsupportedFormat).
			WithTag("path", path).
			WithTag("extension", ext)
	}
	if err != nil {
		return File{}, errors.New("decoding config file failed").
			WithType(ErrTypeInvalid).
			WithTag("path", path).
			Wrap(err)
	}

	if f.Field.VoxelSize < 0 || f.Field.ReservedBlocks < 0 || f.Field.HashSize < 0 {
		return File{}, errors.New("negative field parameter").
			WithType(ErrTypeInvalid).
			WithTag("path", path).
			WithTag("voxel_size", f.Field.VoxelSize).
			WithTag("reserved_blocks", f.Field.ReservedBlocks).
			WithTag("hash_size", f.Field.HashSize)
	}
	if _, err := f.Snapshot.SaveOptions(); err != nil {
		return File{}, err
	}

	f.Field = f.Field.OrDefault()
	return f, nil
}

func decodeYAML(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	return dec.Decode(v)
}
