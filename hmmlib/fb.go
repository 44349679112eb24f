package hmmlib

import (
	"fmt"
	"math"

	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/grahamgower/smcpp/adouble"
)

// transPowers returns the double precision transition matrix raised to
// the normal and alt block lengths.
func (hmm *HMM[T]) transPowers() (*mat.Dense, *mat.Dense) {

	tt := mat.NewDense(hmm.NState, hmm.NState, adouble.Values(hmm.Trans))

	var tpow, talt mat.Dense
	tpow.Pow(tt, hmm.BlockSize)
	talt.Pow(tt, hmm.AltBlockSize)

	return &tpow, &talt
}

// flatten returns the elements of a in row-major order.
func flatten(a *mat.Dense) []float64 {

	r, c := a.Dims()
	x := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		x = append(x, a.RawRowView(i)...)
	}

	return x
}

func validScale(c float64) bool {
	return c > 0 && !math.IsInf(c, 0)
}

// ForwardBackward calculates the scaled forward and backward probabilities
// in double precision.  The recursion over blocks is sequential.
func (hmm *HMM[T]) ForwardBackward() error {

	hmm.msglogger.Printf("forward backward")

	nst := hmm.NState
	tpow, talt := hmm.transPowers()
	tfor := func(ell int) *mat.Dense {
		if hmm.IsAltBlock(ell) {
			return talt
		}
		return tpow
	}

	// Initial block
	a0 := hmm.alphaHat[0]
	floats.MulTo(a0, adouble.Values(hmm.Init), hmm.dB(0))
	hmm.c[0] = floats.Sum(a0)
	if !validScale(hmm.c[0]) {
		return hmm.domainError(fmt.Errorf("forward algorithm: scaling constant %g at block 0", hmm.c[0]))
	}
	floats.Scale(1/hmm.c[0], a0)

	// Forward sweep, the transition out of block ell-1 depends on its length
	for ell := 1; ell < hmm.NBlock; ell++ {
		alpha := hmm.alphaHat[ell]
		av := mat.NewVecDense(nst, alpha)
		av.MulVec(tfor(ell-1).T(), mat.NewVecDense(nst, hmm.alphaHat[ell-1]))
		floats.Mul(alpha, hmm.dB(ell))

		hmm.c[ell] = floats.Sum(alpha)
		if !validScale(hmm.c[ell]) {
			return hmm.domainError(fmt.Errorf("forward algorithm: scaling constant %g at block %d",
				hmm.c[ell], ell))
		}
		floats.Scale(1/hmm.c[ell], alpha)
	}

	// Backward sweep
	last := hmm.betaHat[hmm.NBlock-1]
	for j := range last {
		last[j] = 1
	}
	wk := make([]float64, nst)
	for ell := hmm.NBlock - 2; ell >= 0; ell-- {
		floats.MulTo(wk, hmm.dB(ell+1), hmm.betaHat[ell+1])
		bv := mat.NewVecDense(nst, hmm.betaHat[ell])
		bv.MulVec(tfor(ell), mat.NewVecDense(nst, wk))
		floats.Scale(1/hmm.c[ell+1], hmm.betaHat[ell])
	}

	return nil
}

// xiPair holds private accumulators for the pairwise statistics.
type xiPair struct {
	xis    []float64
	xisAlt []float64
}

// Estep runs the forward-backward algorithm, then calculates the posterior
// state probabilities and the transition sufficient statistics.
func (hmm *HMM[T]) Estep() error {

	hmm.msglogger.Printf("E step")

	if err := hmm.ForwardBackward(); err != nil {
		return err
	}

	for ell := 0; ell < hmm.NBlock; ell++ {
		floats.MulTo(hmm.gamma[ell], hmm.alphaHat[ell], hmm.betaHat[ell])
	}

	hmm.msglogger.Printf("xisum")
	nst := hmm.NState
	acc := xiPair{
		xis:    make([]float64, nst*nst),
		xisAlt: make([]float64, nst*nst),
	}

	if hmm.NBlock > 1 {
		res := parallel.RangeReduce(1, hmm.NBlock, 0, func(low, high int) interface{} {
			p := xiPair{
				xis:    make([]float64, nst*nst),
				xisAlt: make([]float64, nst*nst),
			}
			for ell := low; ell < high; ell++ {
				xi := p.xis
				if hmm.IsAltBlock(ell - 1) {
					xi = p.xisAlt
				}
				alpha := hmm.alphaHat[ell-1]
				beta := hmm.betaHat[ell]
				db := hmm.dB(ell)
				c := hmm.c[ell]
				for i := 0; i < nst; i++ {
					for j := 0; j < nst; j++ {
						xi[i*nst+j] += alpha[i] * beta[j] * db[j] / c
					}
				}
			}
			return p
		}, func(x, y interface{}) interface{} {
			px, py := x.(xiPair), y.(xiPair)
			floats.Add(px.xis, py.xis)
			floats.Add(px.xisAlt, py.xisAlt)
			return px
		})
		acc = res.(xiPair)
	}

	tpow, talt := hmm.transPowers()
	floats.MulTo(hmm.Xisum, acc.xis, flatten(tpow))
	floats.MulTo(hmm.XisumAlt, acc.xisAlt, flatten(talt))

	return nil
}
