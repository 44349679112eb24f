// Package adouble provides the scalar types used by the HMM code.  The
// same algorithm text is instantiated with Float when only values are
// needed, and with Dual when forward-mode derivatives are required.
package adouble

import (
	"math"
)

// Number is satisfied by the scalar types in this package.  Values are
// immutable, every operation returns a new value.
type Number[T any] interface {
	Add(T) T
	Sub(T) T
	Mul(T) T
	Div(T) T
	AddFloat(float64) T
	MulFloat(float64) T
	Log() T
	Exp() T

	// Const returns a constant with the given value.  For a Dual the
	// derivative part is empty.
	Const(float64) T

	// Value returns the double precision projection.
	Value() float64

	// Finite is true if the value and every derivative component are
	// neither NaN nor infinite.
	Finite() bool
}

// Float is a plain double that satisfies Number.
type Float float64

func (x Float) Add(y Float) Float        { return x + y }
func (x Float) Sub(y Float) Float        { return x - y }
func (x Float) Mul(y Float) Float        { return x * y }
func (x Float) Div(y Float) Float        { return x / y }
func (x Float) AddFloat(y float64) Float { return x + Float(y) }
func (x Float) MulFloat(y float64) Float { return x * Float(y) }
func (x Float) Log() Float               { return Float(math.Log(float64(x))) }
func (x Float) Exp() Float               { return Float(math.Exp(float64(x))) }
func (x Float) Const(v float64) Float    { return Float(v) }
func (x Float) Value() float64           { return float64(x) }
func (x Float) Finite() bool             { return finite(float64(x)) }

// Dual is a forward-mode dual number with a derivative vector.  A nil
// derivative vector means all derivatives are zero.
type Dual struct {
	Val float64
	Der []float64
}

// Variable returns a Dual with value v whose derivative is the i-th unit
// vector of length n.
func Variable(v float64, i, n int) Dual {
	d := make([]float64, n)
	d[i] = 1
	return Dual{Val: v, Der: d}
}

// Constant returns a Dual with no derivative part.
func Constant(v float64) Dual {
	return Dual{Val: v}
}

// combine returns a*x.Der + b*y.Der
func combine(a float64, x []float64, b float64, y []float64) []float64 {

	switch {
	case x == nil && y == nil:
		return nil
	case y == nil:
		return scaled(a, x)
	case x == nil:
		return scaled(b, y)
	}

	n := len(x)
	if len(y) > n {
		n = len(y)
	}
	d := make([]float64, n)
	for i, v := range x {
		d[i] = a * v
	}
	for i, v := range y {
		d[i] += b * v
	}

	return d
}

func scaled(a float64, x []float64) []float64 {
	if x == nil {
		return nil
	}
	d := make([]float64, len(x))
	for i, v := range x {
		d[i] = a * v
	}
	return d
}

func (x Dual) Add(y Dual) Dual {
	return Dual{Val: x.Val + y.Val, Der: combine(1, x.Der, 1, y.Der)}
}

func (x Dual) Sub(y Dual) Dual {
	return Dual{Val: x.Val - y.Val, Der: combine(1, x.Der, -1, y.Der)}
}

func (x Dual) Mul(y Dual) Dual {
	return Dual{Val: x.Val * y.Val, Der: combine(y.Val, x.Der, x.Val, y.Der)}
}

func (x Dual) Div(y Dual) Dual {
	v := x.Val / y.Val
	return Dual{Val: v, Der: combine(1/y.Val, x.Der, -v/y.Val, y.Der)}
}

func (x Dual) AddFloat(y float64) Dual {
	return Dual{Val: x.Val + y, Der: scaled(1, x.Der)}
}

func (x Dual) MulFloat(y float64) Dual {
	return Dual{Val: x.Val * y, Der: scaled(y, x.Der)}
}

func (x Dual) Log() Dual {
	return Dual{Val: math.Log(x.Val), Der: scaled(1/x.Val, x.Der)}
}

func (x Dual) Exp() Dual {
	v := math.Exp(x.Val)
	return Dual{Val: v, Der: scaled(v, x.Der)}
}

func (x Dual) Const(v float64) Dual {
	return Dual{Val: v}
}

func (x Dual) Value() float64 {
	return x.Val
}

// Deriv returns the i-th derivative component, which is zero if the
// derivative vector is shorter than i+1.
func (x Dual) Deriv(i int) float64 {
	if i >= len(x.Der) {
		return 0
	}
	return x.Der[i]
}

func (x Dual) Finite() bool {
	if !finite(x.Val) {
		return false
	}
	for _, v := range x.Der {
		if !finite(v) {
			return false
		}
	}
	return true
}

// Values returns the double precision projection of x.
func Values[T Number[T]](x []T) []float64 {
	v := make([]float64, len(x))
	for i := range x {
		v[i] = x[i].Value()
	}
	return v
}

// Sum returns the sum of the elements of x, which must be non-empty.
func Sum[T Number[T]](x []T) T {
	s := x[0]
	for _, v := range x[1:] {
		s = s.Add(v)
	}
	return s
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
