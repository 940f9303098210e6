package tsdf

import (
	"fmt"

	"github.com/aukilabs/tsdf/geometry"
	"github.com/go-gl/mathgl/mgl32"
)

// BlockIndexOf returns the block that owns a virtual voxel.
func BlockIndexOf(voxel geometry.Index3) geometry.Index3 {
	return voxel.FloorDiv(BlockSize)
}

// LocalOffsetOf returns the position of a virtual voxel inside the given
// block. It panics when the voxel does not belong to the block.
func LocalOffsetOf(block, voxel geometry.Index3) geometry.Index3 {
	local := voxel.Sub(block.Mul(BlockSize))
	if !local.GreaterOrEqualThan(geometry.Index3{}) ||
		!local.LesserThan(geometry.NewIndex3(BlockSize, BlockSize, BlockSize)) {
		panic(fmt.Sprintf("tsdf: voxel %v is outside of block %v", voxel, block))
	}
	return local
}

// VirtualVoxelIndex returns the voxel nearest to a world position.
func (f *Field) VirtualVoxelIndex(p mgl32.Vec3) geometry.Index3 {
	return geometry.RoundVec3(p.Mul(f.voxelSizeInv))
}

// BlockIndexAt returns the block owning the voxel nearest to p.
func (f *Field) BlockIndexAt(p mgl32.Vec3) geometry.Index3 {
	return BlockIndexOf(f.VirtualVoxelIndex(p))
}

// GetVoxel returns the voxel at a virtual voxel index. Voxels of blocks
// that were never allocated read as the zero voxel.
func (f *Field) GetVoxel(voxel geometry.Index3) Voxel {
	blockIndex := BlockIndexOf(voxel)
	b := f.GetBlock(blockIndex)
	if b == nil {
		return Voxel{}
	}

	local := LocalOffsetOf(blockIndex, voxel)
	return b.Data[local.Z][local.Y][local.X]
}

// GlobalBlockOffset returns the world position of the first voxel of a
// block.
func (f *Field) GlobalBlockOffset(block geometry.Index3) mgl32.Vec3 {
	return block.Vec3().Mul(f.voxelSize * BlockSize)
}

// GlobalPosition returns the world position of voxel (x, y, z) of a block.
func (f *Field) GlobalPosition(block geometry.Index3, z, y, x int) mgl32.Vec3 {
	return mgl32.Vec3{float32(x), float32(y), float32(z)}.
		Mul(f.voxelSize).
		Add(f.GlobalBlockOffset(block))
}

// BlockCenter returns the world position of the central voxel of a block.
func (f *Field) BlockCenter(block geometry.Index3) mgl32.Vec3 {
	const half = BlockSize / 2
	return f.GlobalPosition(block, half, half, half)
}
