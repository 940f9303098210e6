package tsdf

import (
	"fmt"

	"github.com/aukilabs/tsdf/geometry"
	"github.com/dustin/go-humanize"
)

// Bounds returns the box of all live block coordinates. It is empty when
// the field holds no block.
func (f *Field) Bounds() geometry.Rect {
	r := geometry.EmptyRect()
	for i := range f.Blocks() {
		r.Extend(f.blocks[i].Index)
	}
	return r
}

// NumBlocksInRect returns the number of live blocks inside rect.
func (f *Field) NumBlocksInRect(rect geometry.Rect) int {
	n := 0
	for i := range f.Blocks() {
		if rect.Contains(f.blocks[i].Index) {
			n++
		}
	}
	return n
}

// EraseEmptyBlocks removes every block whose voxels all have weight 0 and
// returns the number of removed blocks.
func (f *Field) EraseEmptyBlocks() int {
	return f.eraseWhere(func(b *VoxelBlock) bool {
		return b.IsEmpty()
	})
}

// CropToRect removes every block outside rect and returns the number of
// removed blocks.
func (f *Field) CropToRect(rect geometry.Rect) int {
	return f.eraseWhere(func(b *VoxelBlock) bool {
		return !rect.Contains(b.Index)
	})
}

// eraseWhere collects the matching coordinates before erasing, since every
// erase moves a block between slots.
func (f *Field) eraseWhere(match func(*VoxelBlock) bool) int {
	var toErase []geometry.Index3
	for i := range f.Blocks() {
		if match(&f.blocks[i]) {
			toErase = append(toErase, f.blocks[i].Index)
		}
	}

	for _, i := range toErase {
		f.EraseBlock(i)
	}
	return len(toErase)
}

// ClampDistance clamps the distance of every voxel to [-d, d].
func (f *Field) ClampDistance(d float32) {
	f.forAllVoxels(func(v *Voxel) {
		v.Distance = max(-d, min(d, v.Distance))
	})
}

// SetForAll overwrites every voxel of every live block.
func (f *Field) SetForAll(distance, weight float32) {
	f.forAllVoxels(func(v *Voxel) {
		v.Distance = distance
		v.Weight = weight
	})
}

// NumZeroVoxels returns the number of voxels in live blocks with weight 0.
func (f *Field) NumZeroVoxels() int {
	n := 0
	f.forAllVoxels(func(v *Voxel) {
		if v.Weight == 0 {
			n++
		}
	})
	return n
}

func (f *Field) forAllVoxels(fn func(*Voxel)) {
	blocks := f.Blocks()
	for i := range blocks {
		blocks[i].ForEach(func(_, _, _ int, v *Voxel) {
			fn(v)
		})
	}
}

// Stats is a summary of the field's occupancy.
type Stats struct {
	VoxelSize   float32       `json:"voxel_size"`
	Blocks      int           `json:"blocks"`
	Capacity    int           `json:"capacity"`
	Voxels      int           `json:"voxels"`
	ZeroVoxels  int           `json:"zero_voxels"`
	MemoryBytes int           `json:"memory_bytes"`
	Bounds      geometry.Rect `json:"bounds"`
}

func (f *Field) Stats() Stats {
	return Stats{
		VoxelSize:   f.voxelSize,
		Blocks:      f.Size(),
		Capacity:    f.Capacity(),
		Voxels:      f.Size() * voxelsPerBlock,
		ZeroVoxels:  f.NumZeroVoxels(),
		MemoryBytes: f.Memory(),
		Bounds:      f.Bounds(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("%s blocks (%s allocated), %s voxels (%s unset), %s in memory",
		humanize.Comma(int64(s.Blocks)),
		humanize.Comma(int64(s.Capacity)),
		humanize.Comma(int64(s.Voxels)),
		humanize.Comma(int64(s.ZeroVoxels)),
		humanize.Bytes(uint64(s.MemoryBytes)),
	)
}
