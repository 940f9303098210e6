package geometry

// Rect is an axis aligned integer box. Both corners are inclusive.
type Rect struct {
	Begin Index3 `json:"begin"`
	End   Index3 `json:"end"`
}

// EmptyRect returns a rect that contains nothing and grows to fit the first
// point passed to Extend.
func EmptyRect() Rect {
	const maxInt32 = int32(^uint32(0) >> 1)
	return Rect{
		Begin: Index3{maxInt32, maxInt32, maxInt32},
		End:   Index3{-maxInt32 - 1, -maxInt32 - 1, -maxInt32 - 1},
	}
}

func NewRect(begin, end Index3) Rect {
	return Rect{Begin: begin, End: end}
}

func (r Rect) Empty() bool {
	return r.Begin.X > r.End.X || r.Begin.Y > r.End.Y || r.Begin.Z > r.End.Z
}

func (r Rect) Contains(i Index3) bool {
	return i.GreaterOrEqualThan(r.Begin) && r.End.GreaterOrEqualThan(i)
}

// Extend grows the rect so that it contains i.
func (r *Rect) Extend(i Index3) {
	r.Begin = MinIndex3(r.Begin, i)
	r.End = MaxIndex3(r.End, i)
}

// Volume returns the number of integer points in the rect.
func (r Rect) Volume() int64 {
	if r.Empty() {
		return 0
	}
	return int64(r.End.X-r.Begin.X+1) *
		int64(r.End.Y-r.Begin.Y+1) *
		int64(r.End.Z-r.Begin.Z+1)
}
