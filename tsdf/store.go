package tsdf

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/aukilabs/tsdf/geometry"
	"github.com/go-gl/mathgl/mgl32"
)

const hashPrime = 1000

// Config holds the construction parameters of a Field. They are immutable
// for the lifetime of the field.
type Config struct {
	VoxelSize      float32 `json:"voxel_size"      toml:"voxel_size"      yaml:"voxel_size"`
	ReservedBlocks int     `json:"reserved_blocks" toml:"reserved_blocks" yaml:"reserved_blocks"`
	HashSize       int     `json:"hash_size"       toml:"hash_size"       yaml:"hash_size"`
}

// DefaultConfig returns the config used for unset Config fields.
func DefaultConfig() Config {
	return Config{
		VoxelSize:      0.01,
		ReservedBlocks: 1000,
		HashSize:       100000,
	}
}

// OrDefault returns the config with every unset field replaced by its
// default value.
func (c Config) OrDefault() Config {
	d := DefaultConfig()
	if c.VoxelSize <= 0 {
		c.VoxelSize = d.VoxelSize
	}
	if c.ReservedBlocks <= 0 {
		c.ReservedBlocks = d.ReservedBlocks
	}
	if c.HashSize <= 0 {
		c.HashSize = d.HashSize
	}
	return c
}

// Field is a block-sparse truncated signed distance field.
//
// Blocks live in a single contiguous array. Slots [0, Size()) are live.
// Every bucket of the spatial hash points at the first slot of a chain
// linked through VoxelBlock.next.
//
// Erasing a block moves the last live block into the freed slot, so slot
// ids and block pointers obtained before an erase, a resize or a compaction
// must not be reused afterwards.
//
// Only InsertBlockLock is safe for concurrent use. Every other mutation
// requires exclusive access.
type Field struct {
	voxelSize    float32
	voxelSizeInv float32
	hashSize     int

	blocks           []VoxelBlock
	currentBlocks    atomic.Int32
	firstHashedBlock []int32
	hashLocks        []spinLock

	instrumented bool
}

// New returns an empty field with conf's capacity reserved. Unset config
// fields take their default value.
func New(conf Config) *Field {
	conf = conf.OrDefault()

	f := &Field{
		voxelSize:        conf.VoxelSize,
		voxelSizeInv:     1 / conf.VoxelSize,
		hashSize:         conf.HashSize,
		firstHashedBlock: make([]int32, conf.HashSize),
		hashLocks:        make([]spinLock, conf.HashSize),
	}
	for i := range f.firstHashedBlock {
		f.firstHashedBlock[i] = -1
	}
	f.Reserve(conf.ReservedBlocks)
	return f
}

// Config returns the config the field would be recreated with. Reserved
// blocks reflect the current capacity.
func (f *Field) Config() Config {
	return Config{
		VoxelSize:      f.voxelSize,
		ReservedBlocks: len(f.blocks),
		HashSize:       f.hashSize,
	}
}

// VoxelSize returns the edge length of a voxel in world units.
func (f *Field) VoxelSize() float32 {
	return f.voxelSize
}

// HashSize returns the number of buckets of the spatial hash.
func (f *Field) HashSize() int {
	return f.hashSize
}

// Instrument makes f report its live blocks in the tsdf_blocks gauge and
// its insertions and erasures in the block counters. Fields are not
// instrumented by default, so scratch copies leave the metrics alone.
func (f *Field) Instrument() {
	if f.instrumented {
		return
	}
	f.instrumented = true
	blocksGauge.Add(float64(f.Size()))
}

// Size returns the number of live blocks.
func (f *Field) Size() int {
	return int(f.currentBlocks.Load())
}

// Capacity returns the number of allocated block slots.
func (f *Field) Capacity() int {
	return len(f.blocks)
}

// Blocks returns the live blocks. The slice is only valid until the next
// insertion, erase or compaction.
func (f *Field) Blocks() []VoxelBlock {
	return f.blocks[:f.Size()]
}

// Reserve makes sure at least n block slots are allocated.
func (f *Field) Reserve(n int) {
	if n <= len(f.blocks) {
		return
	}

	blocks := make([]VoxelBlock, n)
	live := copy(blocks, f.blocks[:f.Size()])
	for i := live; i < n; i++ {
		blocks[i] = newVoxelBlock()
	}
	f.blocks = blocks
}

// Compact drops every allocated slot past the live blocks.
func (f *Field) Compact() {
	blocks := make([]VoxelBlock, f.Size())
	copy(blocks, f.blocks)
	f.blocks = blocks
}

// Clear removes every block while keeping the allocated capacity.
func (f *Field) Clear() {
	if f.instrumented {
		blocksGauge.Sub(float64(f.Size()))
	}
	f.currentBlocks.Store(0)
	for i := range f.blocks {
		f.blocks[i] = newVoxelBlock()
	}
	for i := range f.firstHashedBlock {
		f.firstHashedBlock[i] = -1
	}
}

// Clone returns a deep copy of the field. The copy is not instrumented.
func (f *Field) Clone() *Field {
	c := &Field{
		voxelSize:        f.voxelSize,
		voxelSizeInv:     f.voxelSizeInv,
		hashSize:         f.hashSize,
		blocks:           make([]VoxelBlock, len(f.blocks)),
		firstHashedBlock: make([]int32, len(f.firstHashedBlock)),
		hashLocks:        make([]spinLock, len(f.hashLocks)),
	}
	copy(c.blocks, f.blocks)
	copy(c.firstHashedBlock, f.firstHashedBlock)
	c.currentBlocks.Store(f.currentBlocks.Load())
	return c
}

// replaceWith moves the state of other into f. other must not be used
// afterwards. f stays instrumented when it was.
func (f *Field) replaceWith(other *Field) {
	if f.instrumented {
		blocksGauge.Add(float64(other.Size() - f.Size()))
	}
	f.voxelSize = other.voxelSize
	f.voxelSizeInv = other.voxelSizeInv
	f.hashSize = other.hashSize
	f.blocks = other.blocks
	f.firstHashedBlock = other.firstHashedBlock
	f.hashLocks = other.hashLocks
	f.currentBlocks.Store(other.currentBlocks.Load())
}

// Memory returns the approximate number of bytes held by the field.
func (f *Field) Memory() int {
	memBlocks := len(f.blocks) * int(unsafe.Sizeof(VoxelBlock{}))
	memHash := len(f.firstHashedBlock) * int(unsafe.Sizeof(int32(0)))
	memLocks := len(f.hashLocks) * int(unsafe.Sizeof(spinLock{}))
	return memBlocks + memHash + memLocks + int(unsafe.Sizeof(*f))
}

// Hash returns the bucket of a block coordinate. The polynomial wraps
// around in 32 bits and is stable across processes, which snapshots rely on.
func (f *Field) Hash(i geometry.Index3) int {
	u := uint32(i.X + i.Y*hashPrime + i.Z*hashPrime*hashPrime)
	return int(u % uint32(f.hashSize))
}

// GetBlockID returns the slot of the block at i, or -1.
func (f *Field) GetBlockID(i geometry.Index3) int {
	return int(f.blockID(i, f.Hash(i)))
}

// GetBlock returns the block at i, or nil.
func (f *Field) GetBlock(i geometry.Index3) *VoxelBlock {
	return f.getBlock(i, f.Hash(i))
}

func (f *Field) blockID(i geometry.Index3, h int) int32 {
	id := f.firstHashedBlock[h]
	for id != -1 {
		b := &f.blocks[id]
		if b.Index == i {
			break
		}
		id = b.next
	}
	return id
}

func (f *Field) getBlock(i geometry.Index3, h int) *VoxelBlock {
	if id := f.blockID(i, h); id >= 0 {
		return &f.blocks[id]
	}
	return nil
}

// InsertBlock returns the block at i, creating it when it does not exist.
// The backing array doubles when it is full. Not safe for concurrent use.
func (f *Field) InsertBlock(i geometry.Index3) *VoxelBlock {
	h := f.Hash(i)
	if b := f.getBlock(i, h); b != nil {
		return b
	}

	slot := f.currentBlocks.Load()
	if int(slot) >= len(f.blocks) {
		f.Reserve(max(1, len(f.blocks)*2))
	}
	f.currentBlocks.Store(slot + 1)

	return f.link(i, h, slot)
}

// InsertBlockLock is InsertBlock for concurrent callers. Every bucket has
// its own lock and slots are reserved with an atomic increment.
//
// The backing array cannot grow here: it panics when the reserved capacity
// is exhausted. Call Reserve before starting concurrent insertion.
func (f *Field) InsertBlockLock(i geometry.Index3) *VoxelBlock {
	h := f.Hash(i)

	f.hashLocks[h].Lock()
	defer f.hashLocks[h].Unlock()

	if b := f.getBlock(i, h); b != nil {
		return b
	}

	slot := f.currentBlocks.Add(1) - 1
	if int(slot) >= len(f.blocks) {
		f.currentBlocks.Add(-1)
		capacityOverflows.Inc()
		panic(fmt.Sprintf("tsdf: block capacity %d exceeded during concurrent insertion of %v", len(f.blocks), i))
	}

	return f.link(i, h, slot)
}

// link initializes slot as the block at i and prepends it to bucket h.
func (f *Field) link(i geometry.Index3, h int, slot int32) *VoxelBlock {
	b := &f.blocks[slot]
	b.Data = [BlockSize][BlockSize][BlockSize]Voxel{}
	b.Index = i
	b.next = f.firstHashedBlock[h]
	f.firstHashedBlock[h] = slot

	if f.instrumented {
		blocksInserted.Inc()
		blocksGauge.Inc()
	}
	return b
}

// unlink removes the block at i from bucket h and returns its slot, or -1.
func (f *Field) unlink(i geometry.Index3, h int) int32 {
	ptr := &f.firstHashedBlock[h]
	for *ptr != -1 {
		b := &f.blocks[*ptr]
		if b.Index == i {
			id := *ptr
			*ptr = b.next
			return id
		}
		ptr = &b.next
	}
	return -1
}

// EraseBlock removes the block at i and reports whether it existed. The
// last live block is moved into the freed slot, which invalidates every
// slot id and block pointer held by callers.
func (f *Field) EraseBlock(i geometry.Index3) bool {
	id := f.unlink(i, f.Hash(i))
	if id < 0 {
		return false
	}

	last := f.currentBlocks.Load() - 1
	if id != last {
		lastIndex := f.blocks[last].Index
		lastHash := f.Hash(lastIndex)
		f.unlink(lastIndex, lastHash)

		f.blocks[id] = f.blocks[last]
		f.blocks[id].next = f.firstHashedBlock[lastHash]
		f.firstHashedBlock[lastHash] = id
	}

	f.blocks[last] = newVoxelBlock()
	f.currentBlocks.Store(last)

	if f.instrumented {
		blocksErased.Inc()
		blocksGauge.Dec()
	}
	return true
}

// AllocateAroundPoint inserts the cube of (2r+1)^3 blocks centered on the
// block containing the world position p.
func (f *Field) AllocateAroundPoint(p mgl32.Vec3, r int) {
	center := f.BlockIndexAt(p)
	for z := -r; z <= r; z++ {
		for y := -r; y <= r; y++ {
			for x := -r; x <= r; x++ {
				f.InsertBlock(center.Add(geometry.NewIndex3(int32(x), int32(y), int32(z))))
			}
		}
	}
}

func (f *Field) String() string {
	return fmt.Sprintf("SparseTSDF{voxel_size: %v, block_size: %d, blocks: %d/%d, hash_size: %d, memory: %d}",
		f.voxelSize, BlockSize, f.Size(), f.Capacity(), f.hashSize, f.Memory())
}
