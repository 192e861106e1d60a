package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{"1k", 1e3, true},
		{"10meg", 1e7, true},
		{"10MEG", 1e7, true},
		{"2.5u", 2.5e-6, true},
		{"1uF", 1e-6, true},
		{"3n", 3e-9, true},
		{"1e-3", 1e-3, true},
		{"4mil", 4 * 25.4e-6, true},
		{"-2", -2, true},
		{"w", 0, false},
		{"1+2", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-18, tt.in)
		}
	}
}

func TestEvalArithmetic(t *testing.T) {
	c := New()
	c.Set("l", 0.5)

	v, err := c.Eval("'2*l + 1'")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	v, err = c.Eval("{sqrt(16)}")
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	v, err = c.Eval("'(1k - 500) / 4'")
	require.NoError(t, err)
	assert.Equal(t, 125.0, v)
}

func TestEvalUndefined(t *testing.T) {
	c := New()
	_, err := c.Eval("'w*2'")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)

	_, err = c.Eval("'frob(2)'")
	assert.ErrorIs(t, err, ErrEvaluation)

	_, err = c.Eval("'(1+2'")
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestPushOverridesAndSiblings(t *testing.T) {
	c := New()
	c.Set("scale", 2)

	// w refers to l, which is overridden by the instance.
	err := c.Push(
		map[string]string{"w": "'4*l'", "l": "1", "m": "1"},
		map[string]string{"l": "'scale*3'"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Depth())

	l, ok := c.Lookup("L")
	require.True(t, ok)
	assert.Equal(t, 6.0, l)
	w, _ := c.Lookup("w")
	assert.Equal(t, 24.0, w)
	m, _ := c.Lookup("m")
	assert.Equal(t, 1.0, m)

	c.Pop()
	_, ok = c.Lookup("w")
	assert.False(t, ok)
	s, ok := c.Lookup("scale")
	assert.True(t, ok)
	assert.Equal(t, 2.0, s)

	c.Pop()
	assert.Equal(t, 1, c.Depth())
}

func TestPushFailureLeavesStack(t *testing.T) {
	c := New()
	err := c.Push(map[string]string{"w": "'x*2'"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)
	assert.Equal(t, 1, c.Depth())
}

func TestEvalAllAndExpand(t *testing.T) {
	c := New()
	c.PushValues(map[string]float64{"W": 3})

	values, failed := c.EvalAll(map[string]string{"a": "'w+1'", "b": "'q'"})
	assert.Equal(t, map[string]float64{"a": 4}, values)
	assert.Equal(t, map[string]string{"b": "'q'"}, failed)

	s, err := c.Expand("'w*2'")
	require.NoError(t, err)
	assert.Equal(t, "6", s)

	s, err = c.Expand("1.5k")
	require.NoError(t, err)
	assert.Equal(t, "1500", s)

	s, err = c.Expand("nch")
	require.NoError(t, err)
	assert.Equal(t, "nch", s)
}
