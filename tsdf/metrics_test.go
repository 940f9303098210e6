package tsdf

import (
	"bytes"
	"testing"

	"github.com/aukilabs/tsdf/geometry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstrument(t *testing.T) {
	live := newTestField(0.5, 8)
	for x := int32(0); x < 5; x++ {
		live.InsertBlock(geometry.NewIndex3(x, 0, 0))
	}

	base := testutil.ToFloat64(blocksGauge)
	live.Instrument()
	live.Instrument()
	require.Equal(t, base+5, testutil.ToFloat64(blocksGauge))

	t.Run("uninstrumented fields leave the metrics alone", func(t *testing.T) {
		gauge := testutil.ToFloat64(blocksGauge)
		inserted := testutil.ToFloat64(blocksInserted)

		scratch := New(live.Config())
		require.Error(t, scratch.Load(bytes.NewReader([]byte("garbage"))))

		var buf bytes.Buffer
		require.NoError(t, live.Save(&buf, SaveOptions{}))
		require.NoError(t, scratch.Load(&buf))
		require.Equal(t, 5, scratch.Size())

		scratch.InsertBlock(geometry.NewIndex3(9, 9, 9))
		scratch.EraseBlock(geometry.NewIndex3(0, 0, 0))
		live.Clone().Clear()
		scratch.Clear()

		require.Equal(t, gauge, testutil.ToFloat64(blocksGauge))
		require.Equal(t, inserted, testutil.ToFloat64(blocksInserted))
	})

	t.Run("instrumented field tracks its blocks", func(t *testing.T) {
		gauge := testutil.ToFloat64(blocksGauge)

		live.InsertBlock(geometry.NewIndex3(0, 1, 0))
		require.Equal(t, gauge+1, testutil.ToFloat64(blocksGauge))

		live.EraseBlock(geometry.NewIndex3(0, 0, 0))
		require.Equal(t, gauge, testutil.ToFloat64(blocksGauge))

		require.Error(t, live.Load(bytes.NewReader(nil)))
		require.Equal(t, gauge, testutil.ToFloat64(blocksGauge))

		other := newTestField(0.5, 2)
		other.InsertBlock(geometry.NewIndex3(3, 3, 3))
		var buf bytes.Buffer
		require.NoError(t, other.Save(&buf, SaveOptions{}))
		require.NoError(t, live.Load(&buf))
		require.Equal(t, 1, live.Size())
		require.Equal(t, gauge-4, testutil.ToFloat64(blocksGauge))

		live.Clear()
		require.Equal(t, gauge-5, testutil.ToFloat64(blocksGauge))
		require.Equal(t, base, testutil.ToFloat64(blocksGauge))
	})
}
