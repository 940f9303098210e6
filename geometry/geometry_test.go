package geometry

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func TestEqualWithEpsilon(t *testing.T) {
	require.True(t, EqualWithEpsilon(0.1, 0.2, 0.11))
	require.False(t, EqualWithEpsilon(0.1, 0.3, 0.11))
}

func TestFloorDiv(t *testing.T) {
	t.Run("positive values truncate", func(t *testing.T) {
		require.Equal(t, int32(0), FloorDiv(7, 8))
		require.Equal(t, int32(1), FloorDiv(8, 8))
		require.Equal(t, int32(2), FloorDiv(23, 8))
	})

	t.Run("negative values floor toward negative infinity", func(t *testing.T) {
		require.Equal(t, int32(-1), FloorDiv(-1, 8))
		require.Equal(t, int32(-1), FloorDiv(-8, 8))
		require.Equal(t, int32(-2), FloorDiv(-9, 8))
	})

	t.Run("index floor division", func(t *testing.T) {
		require.Equal(t, NewIndex3(-1, 0, 1), NewIndex3(-3, 5, 15).FloorDiv(8))
	})
}

func TestIndex3(t *testing.T) {
	a := NewIndex3(1, 2, 3)
	b := NewIndex3(-1, 4, 0)

	require.Equal(t, NewIndex3(0, 6, 3), a.Add(b))
	require.Equal(t, NewIndex3(2, -2, 3), a.Sub(b))
	require.Equal(t, NewIndex3(8, 16, 24), a.Mul(8))
	require.Equal(t, NewIndex3(-1, 2, 0), MinIndex3(a, b))
	require.Equal(t, NewIndex3(1, 4, 3), MaxIndex3(a, b))
	require.True(t, b.Less(a))
	require.False(t, a.Less(a))
	require.Equal(t, "(1,2,3)", a.String())
}

func TestRect(t *testing.T) {
	t.Run("empty rect grows to fit points", func(t *testing.T) {
		r := EmptyRect()
		require.True(t, r.Empty())
		require.Zero(t, r.Volume())

		r.Extend(NewIndex3(1, 1, 1))
		require.False(t, r.Empty())
		require.Equal(t, NewRect(NewIndex3(1, 1, 1), NewIndex3(1, 1, 1)), r)

		r.Extend(NewIndex3(-2, 3, 1))
		require.Equal(t, NewIndex3(-2, 1, 1), r.Begin)
		require.Equal(t, NewIndex3(1, 3, 1), r.End)
		require.Equal(t, int64(12), r.Volume())
	})

	t.Run("contains is inclusive", func(t *testing.T) {
		r := NewRect(NewIndex3(0, 0, 0), NewIndex3(2, 2, 2))
		require.True(t, r.Contains(NewIndex3(0, 0, 0)))
		require.True(t, r.Contains(NewIndex3(2, 2, 2)))
		require.False(t, r.Contains(NewIndex3(3, 2, 2)))
		require.False(t, r.Contains(NewIndex3(0, -1, 0)))
	})
}

func TestVec3Conversions(t *testing.T) {
	require.Equal(t, NewIndex3(-1, 0, 2), FloorVec3(mgl32.Vec3{-0.5, 0.9, 2.1}))
	require.Equal(t, NewIndex3(-1, 1, 2), RoundVec3(mgl32.Vec3{-0.6, 0.5, 2.1}))

	ray := Ray{Origin: mgl32.Vec3{1, 0, 0}, Dir: mgl32.Vec3{0, 2, 0}}
	require.True(t, Vec3EqualWithEpsilon(mgl32.Vec3{1, 3, 0}, ray.At(1.5), 1e-6))
}
