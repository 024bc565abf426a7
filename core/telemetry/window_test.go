package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_AverageRoundsAtFlush(t *testing.T) {
	w := NewWindow(PolicyAverage, AllFields())
	w.Absorb(Batch{{"x": 10}, {"x": 20}, {"x": 30}})

	out, ok := w.Flush(Specs{"x": {Key: "x", Decimals: 0}})
	require.True(t, ok)
	assert.Equal(t, Sample{"x": 20.0}, out)
}

func TestWindow_AverageDecimals(t *testing.T) {
	w := NewWindow(PolicyAverage, AllFields())
	w.Absorb(Batch{{"v": 3.0}, {"v": 3.5}, {"v": nil}, {"v": 4.0}})

	out, ok := w.Flush(Specs{"v": {Decimals: 1}})
	require.True(t, ok)
	assert.InDelta(t, 3.5, out["v"], 1e-9)
}

func TestWindow_LastValueSkipsAbsentFields(t *testing.T) {
	w := NewWindow(PolicyLast, AllFields())
	w.Absorb(Batch{{"x": 1}, {}, {"x": 5}})

	out, ok := w.Flush(nil)
	require.True(t, ok)
	assert.Equal(t, Sample{"x": 5}, out)

	w.Absorb(Batch{{"x": 7}, {"x": nil}})
	out, ok = w.Flush(nil)
	require.True(t, ok)
	assert.Equal(t, 7, out["x"])
}

func TestWindow_LastValueKeepsOrderAcrossBatches(t *testing.T) {
	w := NewWindow(PolicyLast, AllFields())
	w.Absorb(Batch{{"a": 1, "b": "x"}})
	w.Absorb(Batch{{"a": 2}})

	out, ok := w.Flush(nil)
	require.True(t, ok)
	assert.Equal(t, Sample{"a": 2, "b": "x"}, out)
}

func TestWindow_EmptyFlushKeepsState(t *testing.T) {
	w := NewWindow(PolicyLast, NewFieldSet("soc"))
	w.Absorb(Batch{{"speed": 3}})

	out, ok := w.Flush(nil)
	assert.False(t, ok)
	assert.Nil(t, out)
	assert.True(t, w.Empty())

	w.Absorb(Batch{{"soc": 80}})
	out, ok = w.Flush(nil)
	require.True(t, ok)
	assert.Equal(t, Sample{"soc": 80}, out)
	assert.True(t, w.Empty())
}

func TestWindow_BooleanRoundedWithSpec(t *testing.T) {
	w := NewWindow(PolicyAverage, AllFields())
	w.Absorb(Batch{{"charging": true}, {"charging": true}, {"charging": false}})

	out, ok := w.Flush(Specs{"charging": {Decimals: 0}})
	require.True(t, ok)
	assert.Equal(t, 1.0, out["charging"])
}

func TestWindow_AverageNonNumericFallsBackToLast(t *testing.T) {
	w := NewWindow(PolicyAverage, AllFields())
	w.Absorb(Batch{{"cartype": "IONIQ_BEV"}, {"cartype": "KONA_EV"}})

	out, ok := w.Flush(nil)
	require.True(t, ok)
	assert.Equal(t, "KONA_EV", out["cartype"])
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("", PolicyAverage)
	require.NoError(t, err)
	assert.Equal(t, PolicyAverage, p)

	p, err = ParsePolicy("Last", PolicyAverage)
	require.NoError(t, err)
	assert.Equal(t, PolicyLast, p)

	_, err = ParsePolicy("median", PolicyLast)
	assert.Error(t, err)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 2.0, Round(2.5, 0))
	assert.Equal(t, 4.0, Round(3.5, 0))
	assert.Equal(t, 12.35, Round(12.3456, 2))
	assert.Equal(t, 52.520008, Round(52.5200081, 6))
	assert.Equal(t, -1.0, Round(-1.2, 0))
}
