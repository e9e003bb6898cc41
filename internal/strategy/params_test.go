package strategy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"period":    IntValue(14),
		"threshold": FloatValue(0.5),
		"enabled":   BoolValue(true),
	}

	v, ok := p.Int("period")
	assert.True(t, ok)
	assert.Equal(t, 14, v)

	// Float-kind values truncate through the int accessor.
	p["loose"] = FloatValue(3.9)
	v, ok = p.Int("loose")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	f, ok := p.Float("period")
	assert.True(t, ok)
	assert.Equal(t, 14.0, f)

	b, ok := p.Bool("enabled")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = p.Int("missing")
	assert.False(t, ok)
}

func TestParamsClone(t *testing.T) {
	p := Params{"period": IntValue(14)}
	clone := p.Clone()
	clone["period"] = IntValue(28)

	v, _ := p.Int("period")
	assert.Equal(t, 14, v)
}

func TestValueJSONRoundTrip(t *testing.T) {
	p := Params{
		"period":    IntValue(14),
		"threshold": FloatValue(0.5),
		"enabled":   BoolValue(false),
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":14,"threshold":0.5,"enabled":false}`, string(data))

	var back Params
	require.NoError(t, json.Unmarshal(data, &back))
	v, _ := back.Int("period")
	assert.Equal(t, 14, v)
	f, _ := back.Float("threshold")
	assert.Equal(t, 0.5, f)
	b, ok := back.Bool("enabled")
	assert.True(t, ok)
	assert.False(t, b)
}

func TestGridValues(t *testing.T) {
	r := IntRange("period", 10, 30, 5)
	values := r.GridValues()
	require.Len(t, values, 5)
	assert.Equal(t, 10, values[0].Int)
	assert.Equal(t, 30, values[4].Int)
	assert.Equal(t, 5, r.Cardinality())

	fr := FloatRange("dev", 1.5, 3.0, 0.5)
	assert.Equal(t, 4, fr.Cardinality())

	br := BoolRange("flag")
	assert.Equal(t, 2, br.Cardinality())
}

func TestRangeValidate(t *testing.T) {
	assert.NoError(t, IntRange("p", 1, 10, 1).Validate())
	assert.Error(t, IntRange("p", 1, 10, 0).Validate())
	assert.Error(t, IntRange("p", 10, 1, 1).Validate())
	assert.Error(t, FloatRange("p", 0, 1, -0.1).Validate())
	assert.NoError(t, BoolRange("p").Validate())
}

func TestRangeClamp(t *testing.T) {
	r := IntRange("period", 10, 30, 5)
	assert.Equal(t, 10, r.Clamp(IntValue(3)).Int)
	assert.Equal(t, 30, r.Clamp(IntValue(99)).Int)
	assert.Equal(t, 20, r.Clamp(IntValue(20)).Int)

	fr := FloatRange("dev", 1.0, 2.0, 0.5)
	assert.Equal(t, 2.0, fr.Clamp(FloatValue(7.5)).Float)
}

func TestNormalizedDistance(t *testing.T) {
	r := IntRange("period", 0, 10, 1)
	assert.Equal(t, 0.5, r.NormalizedDistance(IntValue(0), IntValue(5)))

	fr := FloatRange("dev", 0, 2, 0.5)
	assert.Equal(t, 1.0, fr.NormalizedDistance(FloatValue(0), FloatValue(2)))

	br := BoolRange("flag")
	assert.Equal(t, 1.0, br.NormalizedDistance(BoolValue(true), BoolValue(false)))
	assert.Equal(t, 0.0, br.NormalizedDistance(BoolValue(true), BoolValue(true)))
}

func TestParamsFromMap(t *testing.T) {
	ranges := map[string]ParameterRange{
		"period": IntRange("period", 5, 50, 5),
		"dev":    FloatRange("dev", 0.5, 3.0, 0.5),
		"trail":  BoolRange("trail"),
	}

	t.Run("coerces yaml and json shapes", func(t *testing.T) {
		params, err := ParamsFromMap(map[string]any{
			"period": float64(14), // json decodes numbers as float64
			"dev":    2,
			"trail":  true,
		}, ranges)
		require.NoError(t, err)

		v, _ := params.Int("period")
		assert.Equal(t, 14, v)
		f, _ := params.Float("dev")
		assert.Equal(t, 2.0, f)
		b, _ := params.Bool("trail")
		assert.True(t, b)
	})

	t.Run("fractional value for int parameter", func(t *testing.T) {
		_, err := ParamsFromMap(map[string]any{"period": 14.5}, ranges)
		assert.ErrorContains(t, err, "expects an integer")
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := ParamsFromMap(map[string]any{"bogus": 1}, ranges)
		assert.ErrorContains(t, err, "unknown parameter")
	})

	t.Run("bool mismatch", func(t *testing.T) {
		_, err := ParamsFromMap(map[string]any{"trail": "yes"}, ranges)
		assert.ErrorContains(t, err, "expects a bool")
	})
}
