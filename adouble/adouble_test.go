package adouble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// f is a test function written once against the generic interface.
func f[T Number[T]](x, y T) T {
	return x.Mul(y).Add(x.Log()).Sub(y.Div(x)).MulFloat(2).AddFloat(1).Exp()
}

func TestDualMatchesFloat(t *testing.T) {

	for _, xy := range [][2]float64{{0.5, 1.5}, {2, 0.1}, {3.7, -1.2}} {

		x, y := xy[0], xy[1]
		fv := f(Float(x), Float(y))
		dv := f(Variable(x, 0, 2), Variable(y, 1, 2))
		assert.InDelta(t, float64(fv), dv.Value(), 1e-12*math.Abs(float64(fv)))

		// Central differences
		h := 1e-6
		dx := (float64(f(Float(x+h), Float(y))) - float64(f(Float(x-h), Float(y)))) / (2 * h)
		dy := (float64(f(Float(x), Float(y+h))) - float64(f(Float(x), Float(y-h)))) / (2 * h)
		assert.InDelta(t, dx, dv.Deriv(0), 1e-5*(1+math.Abs(dx)))
		assert.InDelta(t, dy, dv.Deriv(1), 1e-5*(1+math.Abs(dy)))
	}
}

func TestConstant(t *testing.T) {

	c := Constant(3)
	assert.Nil(t, c.Der)
	assert.Equal(t, 0.0, c.Deriv(5))

	x := Variable(2, 1, 3)
	y := x.Mul(c).Add(c)
	assert.Equal(t, 9.0, y.Value())
	assert.Equal(t, []float64{0, 3, 0}, y.Der)

	z := c.Add(c.Const(1))
	assert.Nil(t, z.Der)
}

func TestFinite(t *testing.T) {

	assert.True(t, Float(1).Finite())
	assert.False(t, Float(0).Log().Finite())
	assert.False(t, Float(math.NaN()).Finite())

	x := Variable(0, 0, 1)
	assert.False(t, x.Log().Finite())

	d := Dual{Val: 1, Der: []float64{0, math.Inf(1)}}
	assert.False(t, d.Finite())
}

func TestValuesSum(t *testing.T) {

	x := []Dual{Variable(1, 0, 2), Variable(2, 1, 2), Constant(4)}
	assert.Equal(t, []float64{1, 2, 4}, Values(x))

	s := Sum(x)
	assert.Equal(t, 7.0, s.Value())
	assert.Equal(t, []float64{1, 1}, s.Der)
}
