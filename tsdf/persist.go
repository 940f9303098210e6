package tsdf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/tsdf/codec"
	"github.com/aukilabs/tsdf/geometry"
	"github.com/dustin/go-humanize"
	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	"github.com/tidwall/btree"
	"github.com/x448/float16"
)

const (
	snapshotMagic   = "TSDF"
	snapshotVersion = 1

	// maxSnapshotHashSize bounds the bucket table a snapshot header can
	// request before its payload has been verified.
	maxSnapshotHashSize = 1 << 26
)

// Precision is the encoding of voxel values in a snapshot.
type Precision uint8

const (
	Float32 Precision = iota
	// Float16 halves the snapshot size at the cost of quantizing distances
	// and weights to half precision.
	Float16
)

func (p Precision) String() string {
	switch p {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

// ParsePrecision returns the precision named s. An empty name is Float32.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(s) {
	case "", "float32", "f32":
		return Float32, nil
	case "float16", "f16", "half":
		return Float16, nil
	default:
		return 0, errors.New("unknown snapshot precision").
			WithTag("precision", s)
	}
}

func (p Precision) voxelBytes() int {
	if p == Float16 {
		return 4
	}
	return 8
}

// SaveOptions controls how a snapshot is encoded.
type SaveOptions struct {
	Compression codec.Compression
	Precision   Precision
}

// snapshotHeader is written little endian at the start of every snapshot.
// The payload that follows is PayloadSize bytes of compressed block
// records; Checksum is the CRC32 of the uncompressed records.
type snapshotHeader struct {
	Magic       [4]byte
	Version     uint16
	Compression uint8
	Precision   uint8
	BlockSize   uint32
	VoxelSize   float32
	HashSize    uint32
	NumBlocks   uint32
	SnapshotID  [16]byte
	PayloadSize uint64
	Checksum    uint32
}

var snapshotHeaderSize = binary.Size(snapshotHeader{})

func blockRecordSize(p Precision) int {
	return 3*4 + voxelsPerBlock*p.voxelBytes()
}

// Save writes a snapshot of the field to w. Blocks are written in
// ascending (z, y, x) order so that equal fields produce equal payloads.
func (f *Field) Save(w io.Writer, opts SaveOptions) error {
	_, err := f.save(w, opts)
	return err
}

func (f *Field) save(w io.Writer, opts SaveOptions) (int, error) {
	start := time.Now()

	n, err := f.writeSnapshot(w, opts)
	instrumentSnapshot("save", opts.Compression.String(), start, n, err)
	return n, err
}

func (f *Field) writeSnapshot(w io.Writer, opts SaveOptions) (int, error) {
	if !opts.Compression.Valid() {
		return 0, errors.New("invalid snapshot compression").
			WithType(codec.ErrTypeUnknownCompression).
			WithTag("compression", uint8(opts.Compression))
	}
	if opts.Precision > Float16 {
		return 0, errors.New("invalid snapshot precision").
			WithTag("precision", uint8(opts.Precision))
	}

	raw := f.encodeBlocks(opts.Precision)
	payload, err := codec.Compress(opts.Compression, raw)
	if err != nil {
		return 0, errors.New("compressing snapshot failed").
			WithTag("compression", opts.Compression).
			Wrap(err)
	}

	h := snapshotHeader{
		Version:     snapshotVersion,
		Compression: uint8(opts.Compression),
		Precision:   uint8(opts.Precision),
		BlockSize:   BlockSize,
		VoxelSize:   f.voxelSize,
		HashSize:    uint32(f.hashSize),
		NumBlocks:   uint32(f.Size()),
		SnapshotID:  uuid.New(),
		PayloadSize: uint64(len(payload)),
		Checksum:    crc32.ChecksumIEEE(raw),
	}
	copy(h.Magic[:], snapshotMagic)

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return 0, errors.New("writing snapshot header failed").
			WithType(ErrTypeSnapshotIO).
			Wrap(err)
	}
	if _, err := w.Write(payload); err != nil {
		return 0, errors.New("writing snapshot payload failed").
			WithType(ErrTypeSnapshotIO).
			Wrap(err)
	}

	logs.WithTag("snapshot_id", uuid.UUID(h.SnapshotID).String()).
		WithTag("blocks", h.NumBlocks).
		WithTag("compression", opts.Compression.String()).
		WithTag("precision", opts.Precision.String()).
		WithTag("size", humanize.Bytes(uint64(snapshotHeaderSize+len(payload)))).
		Debug("snapshot encoded")

	return snapshotHeaderSize + len(payload), nil
}

// encodeBlocks serializes the live blocks as (x, y, z) int32 coordinates
// followed by the voxels in [z][y][x] order.
func (f *Field) encodeBlocks(p Precision) []byte {
	order := btree.NewBTreeG[int32](func(a, b int32) bool {
		if f.blocks[a].Index == f.blocks[b].Index {
			return a < b
		}
		return f.blocks[a].Index.Less(f.blocks[b].Index)
	})
	for i := range f.Blocks() {
		order.Set(int32(i))
	}

	buf := make([]byte, 0, f.Size()*blockRecordSize(p))
	order.Scan(func(id int32) bool {
		b := &f.blocks[id]
		buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Index.X))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Index.Y))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Index.Z))

		b.ForEach(func(_, _, _ int, v *Voxel) {
			switch p {
			case Float16:
				buf = binary.LittleEndian.AppendUint16(buf, float16.Fromfloat32(v.Distance).Bits())
				buf = binary.LittleEndian.AppendUint16(buf, float16.Fromfloat32(v.Weight).Bits())
			default:
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v.Distance))
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v.Weight))
			}
		})
		return true
	})
	return buf
}

// SaveFile atomically writes a snapshot to path: the snapshot is written
// to a temporary file which then replaces path.
func (f *Field) SaveFile(path string, opts SaveOptions) error {
	tmp := path + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return errors.New("creating snapshot file failed").
			WithType(ErrTypeSnapshotIO).
			WithTag("path", tmp).
			Wrap(err)
	}

	w := bufio.NewWriter(file)
	n, err := f.save(w, opts)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return errors.New("saving snapshot failed").
			WithType(errors.Type(err)).
			WithTag("path", path).
			Wrap(err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.New("replacing snapshot file failed").
			WithType(ErrTypeSnapshotIO).
			WithTag("path", path).
			Wrap(err)
	}

	logs.WithTag("path", path).
		WithTag("blocks", f.Size()).
		WithTag("size", humanize.Bytes(uint64(n))).
		Info("snapshot saved")
	return nil
}

// Load replaces the field with the snapshot read from r. On error the
// field is left untouched.
func (f *Field) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.New("reading snapshot failed").
			WithType(ErrTypeSnapshotIO).
			Wrap(err)
	}
	return f.load(data)
}

// LoadFile replaces the field with the snapshot stored at path. The file
// is memory mapped while it is decoded. On error the field is left
// untouched.
func (f *Field) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.New("opening snapshot file failed").
			WithType(ErrTypeSnapshotIO).
			WithTag("path", path).
			Wrap(err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.New("reading snapshot file info failed").
			WithType(ErrTypeSnapshotIO).
			WithTag("path", path).
			Wrap(err)
	}
	if info.Size() < int64(snapshotHeaderSize) {
		return errors.New("snapshot file is too small").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("path", path).
			WithTag("size", info.Size())
	}

	m, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return errors.New("mapping snapshot file failed").
			WithType(ErrTypeSnapshotIO).
			WithTag("path", path).
			Wrap(err)
	}
	defer m.Unmap()

	if err := f.load(m); err != nil {
		return errors.New("loading snapshot file failed").
			WithType(errors.Type(err)).
			WithTag("path", path).
			Wrap(err)
	}

	logs.WithTag("path", path).
		WithTag("blocks", f.Size()).
		WithTag("size", humanize.Bytes(uint64(info.Size()))).
		Info("snapshot loaded")
	return nil
}

func (f *Field) load(data []byte) error {
	start := time.Now()

	loaded, h, err := decodeSnapshot(data)
	instrumentSnapshot("load", codec.Compression(h.Compression).String(), start, len(data), err)
	if err != nil {
		return err
	}

	f.replaceWith(loaded)
	return nil
}

// decodeSnapshot builds a new field from a snapshot. data is not retained.
func decodeSnapshot(data []byte) (*Field, snapshotHeader, error) {
	var h snapshotHeader
	if len(data) < snapshotHeaderSize {
		return nil, h, errors.New("snapshot is too small").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("size", len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:snapshotHeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, h, errors.New("reading snapshot header failed").
			WithType(ErrTypeMalformedSnapshot).
			Wrap(err)
	}

	switch {
	case string(h.Magic[:]) != snapshotMagic:
		return nil, h, errors.New("not a tsdf snapshot").
			WithType(ErrTypeMalformedSnapshot)

	case h.Version != snapshotVersion:
		return nil, h, errors.New("unsupported snapshot version").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("version", h.Version)

	case h.BlockSize != BlockSize:
		return nil, h, errors.New("snapshot block size mismatch").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("block_size", h.BlockSize)

	case !codec.Compression(h.Compression).Valid():
		return nil, h, errors.New("unknown snapshot compression").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("compression", h.Compression)

	case Precision(h.Precision) > Float16:
		return nil, h, errors.New("unknown snapshot precision").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("precision", h.Precision)

	case !(h.VoxelSize > 0) || math.IsInf(float64(h.VoxelSize), 0):
		return nil, h, errors.New("invalid snapshot voxel size").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("voxel_size", h.VoxelSize)

	case h.HashSize == 0 || h.HashSize > maxSnapshotHashSize:
		return nil, h, errors.New("invalid snapshot hash size").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("hash_size", h.HashSize)
	}

	payload := data[snapshotHeaderSize:]
	if uint64(len(payload)) != h.PayloadSize {
		return nil, h, errors.New("snapshot payload size mismatch").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("expected", h.PayloadSize).
			WithTag("actual", len(payload))
	}

	raw, err := codec.Decompress(codec.Compression(h.Compression), payload)
	if err != nil {
		return nil, h, errors.New("decompressing snapshot failed").
			WithType(ErrTypeMalformedSnapshot).
			Wrap(err)
	}
	if crc32.ChecksumIEEE(raw) != h.Checksum {
		return nil, h, errors.New("snapshot checksum mismatch").
			WithType(ErrTypeMalformedSnapshot)
	}

	p := Precision(h.Precision)
	recordSize := blockRecordSize(p)
	if uint64(len(raw)) != uint64(h.NumBlocks)*uint64(recordSize) {
		return nil, h, errors.New("snapshot block count mismatch").
			WithType(ErrTypeMalformedSnapshot).
			WithTag("blocks", h.NumBlocks).
			WithTag("size", len(raw))
	}

	f := New(Config{
		VoxelSize:      h.VoxelSize,
		ReservedBlocks: max(1, int(h.NumBlocks)),
		HashSize:       int(h.HashSize),
	})

	for off := 0; off < len(raw); off += recordSize {
		record := raw[off : off+recordSize]
		index := geometry.NewIndex3(
			int32(binary.LittleEndian.Uint32(record[0:])),
			int32(binary.LittleEndian.Uint32(record[4:])),
			int32(binary.LittleEndian.Uint32(record[8:])),
		)
		if f.GetBlock(index) != nil {
			return nil, h, errors.New("duplicate block in snapshot").
				WithType(ErrTypeMalformedSnapshot).
				WithTag("block", index.String())
		}

		voxels := record[12:]
		f.InsertBlock(index).ForEach(func(_, _, _ int, v *Voxel) {
			switch p {
			case Float16:
				v.Distance = float16.Frombits(binary.LittleEndian.Uint16(voxels[0:])).Float32()
				v.Weight = float16.Frombits(binary.LittleEndian.Uint16(voxels[2:])).Float32()
			default:
				v.Distance = math.Float32frombits(binary.LittleEndian.Uint32(voxels[0:]))
				v.Weight = math.Float32frombits(binary.LittleEndian.Uint32(voxels[4:]))
			}
			voxels = voxels[p.voxelBytes():]
		})
	}

	return f, h, nil
}

// Equal reports whether both fields have the same voxel size, the same
// live block coordinates and identical voxels. Slot order is ignored.
func (f *Field) Equal(other *Field) bool {
	if f.voxelSize != other.voxelSize || f.Size() != other.Size() {
		return false
	}

	for i := range f.Blocks() {
		b := &f.blocks[i]
		o := other.GetBlock(b.Index)
		if o == nil || o.Data != b.Data {
			return false
		}
	}
	return true
}
