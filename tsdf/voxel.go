package tsdf

import (
	"github.com/aukilabs/tsdf/geometry"
)

// BlockSize is the edge length of a voxel block, in voxels.
const BlockSize = 8

const voxelsPerBlock = BlockSize * BlockSize * BlockSize

// InvalidBlockIndex marks a block slot that does not represent a real block.
var InvalidBlockIndex = geometry.NewIndex3(-973454, -973454, -973454)

// Voxel is a single TSDF sample. A weight of 0 means the voxel was never
// written and its distance is meaningless.
type Voxel struct {
	Distance float32 `json:"distance"`
	Weight   float32 `json:"weight"`
}

// VoxelBlock is a cube of BlockSize^3 voxels, indexed Data[z][y][x].
type VoxelBlock struct {
	Data  [BlockSize][BlockSize][BlockSize]Voxel
	Index geometry.Index3

	// next is the slot of the following block in the same hash bucket, or
	// -1 at the end of the chain.
	next int32
}

func newVoxelBlock() VoxelBlock {
	return VoxelBlock{
		Index: InvalidBlockIndex,
		next:  -1,
	}
}

// IsEmpty reports whether no voxel of the block was ever written.
func (b *VoxelBlock) IsEmpty() bool {
	for z := range b.Data {
		for y := range b.Data[z] {
			for x := range b.Data[z][y] {
				if b.Data[z][y][x].Weight != 0 {
					return false
				}
			}
		}
	}
	return true
}

// ForEach calls fn with a pointer to every voxel of the block.
func (b *VoxelBlock) ForEach(fn func(z, y, x int, v *Voxel)) {
	for z := range b.Data {
		for y := range b.Data[z] {
			for x := range b.Data[z][y] {
				fn(z, y, x, &b.Data[z][y][x])
			}
		}
	}
}
