package geometry

import "fmt"

// Index3 is a signed integer coordinate of a block or of a voxel in the
// unbounded virtual voxel space.
type Index3 struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

// NewIndex3 returns the index (x, y, z).
func NewIndex3(x, y, z int32) Index3 {
	return Index3{x, y, z}
}

func (a Index3) Add(b Index3) Index3 {
	return Index3{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

func (a Index3) Sub(b Index3) Index3 {
	return Index3{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

func (a Index3) Mul(s int32) Index3 {
	return Index3{a.X * s, a.Y * s, a.Z * s}
}

// FloorDiv divides every component by d, rounding toward negative infinity.
func (a Index3) FloorDiv(d int32) Index3 {
	return Index3{FloorDiv(a.X, d), FloorDiv(a.Y, d), FloorDiv(a.Z, d)}
}

func (a Index3) GreaterOrEqualThan(b Index3) bool {
	return a.X >= b.X && a.Y >= b.Y && a.Z >= b.Z
}

func (a Index3) LesserThan(b Index3) bool {
	return a.X < b.X && a.Y < b.Y && a.Z < b.Z
}

// Less orders indexes by z, then y, then x.
func (a Index3) Less(b Index3) bool {
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}

func (a Index3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", a.X, a.Y, a.Z)
}

func MinIndex3(a, b Index3) Index3 {
	return Index3{min(a.X, b.X), min(a.Y, b.Y), min(a.Z, b.Z)}
}

func MaxIndex3(a, b Index3) Index3 {
	return Index3{max(a.X, b.X), max(a.Y, b.Y), max(a.Z, b.Z)}
}

// FloorDiv is the mathematical floor of a / b. Go's integer division
// truncates toward zero, which is wrong for negative coordinates.
func FloorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
