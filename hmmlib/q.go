package hmmlib

import (
	"errors"
	"fmt"
	"math"

	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/floats"

	"github.com/grahamgower/smcpp/adouble"
)

// matMul returns the product of the n x n row-major matrices a and b.
func matMul[T adouble.Number[T]](a, b []T, n int) []T {

	var z T
	c := make([]T, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			s := z.Const(0)
			for k := 0; k < n; k++ {
				s = s.Add(a[i*n+k].Mul(b[k*n+j]))
			}
			c[i*n+j] = s
		}
	}

	return c
}

// MatPow returns the n x n row-major matrix a raised to the power p,
// using recursive squaring.
func MatPow[T adouble.Number[T]](a []T, n, p int) []T {

	switch {
	case p == 0:
		var z T
		id := make([]T, n*n)
		for i := range id {
			id[i] = z.Const(0)
		}
		for i := 0; i < n; i++ {
			id[i*n+i] = z.Const(1)
		}
		return id
	case p == 1:
		c := make([]T, len(a))
		copy(c, a)
		return c
	case p%2 == 0:
		h := MatPow(a, n, p/2)
		return matMul(h, h, n)
	default:
		h := MatPow(a, n, (p-1)/2)
		return matMul(a, matMul(h, h, n), n)
	}
}

// dotLog returns sum_i w[i]*log(x[i]).  Terms with zero weight are
// omitted, so zero probabilities with no posterior mass are allowed.
func dotLog[T adouble.Number[T]](x []T, w []float64) T {
	var z T
	s := z.Const(0)
	for i := range x {
		if w[i] != 0 {
			s = s.Add(x[i].Log().MulFloat(w[i]))
		}
	}
	return s
}

// dot returns sum_i w[i]*x[i], omitting terms with zero weight.
func dot[T adouble.Number[T]](x []T, w []float64) T {
	var z T
	s := z.Const(0)
	for i := range x {
		if w[i] != 0 {
			s = s.Add(x[i].MulFloat(w[i]))
		}
	}
	return s
}

// Q returns the expected complete data log-likelihood under the posterior
// computed by the last call to Estep.  The derivative part of the result
// is the gradient with respect to the parameters.
func (hmm *HMM[T]) Q() (T, error) {

	hmm.msglogger.Printf("HMM::Q")

	var z T
	nst := hmm.NState

	for _, x := range [][]float64{hmm.Xisum, hmm.XisumAlt} {
		for _, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return z, hmm.domainError(errors.New("q-function: non-finite transition statistic"))
			}
		}
	}

	ret1 := dotLog(hmm.Init, hmm.gamma[0])

	// The posterior mass is summed over the blocks sharing a signature, then
	// the differentiable log-probabilities are used once per signature.
	res := parallel.RangeReduce(0, len(hmm.cache), 0, func(low, high int) interface{} {
		sum := z.Const(0)
		gsum := make([]float64, nst)
		for s := low; s < high; s++ {
			for j := range gsum {
				gsum[j] = 0
			}
			for _, ell := range hmm.comp.Groups[s] {
				floats.Add(gsum, hmm.gamma[ell])
			}
			sum = sum.Add(dot(hmm.cache[s].logProb, gsum))
		}
		return sum
	}, func(x, y interface{}) interface{} {
		return x.(T).Add(y.(T))
	})
	ret2 := res.(T)

	tpow := MatPow(hmm.Trans, nst, hmm.BlockSize)
	talt := MatPow(hmm.Trans, nst, hmm.AltBlockSize)
	ret3 := dotLog(tpow, hmm.Xisum).Add(dotLog(talt, hmm.XisumAlt))

	for i, r := range []T{ret1, ret2, ret3} {
		if !r.Finite() {
			return z, hmm.domainError(fmt.Errorf("q-function: term %d is not finite (value %g)", i+1, r.Value()))
		}
	}

	hmm.msglogger.Printf("ret1: %g ret2: %g ret3: %g\n", ret1.Value(), ret2.Value(), ret3.Value())

	return ret1.Add(ret2).Add(ret3), nil
}
