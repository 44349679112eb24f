package hmmlib

import (
	"fmt"

	"github.com/exascience/pargo/parallel"
	"github.com/hashicorp/go-multierror"

	"github.com/grahamgower/smcpp/adouble"
	"github.com/grahamgower/smcpp/blocks"
)

// classProbs sums the emission columns that share a mask value.
func (hmm *HMM[T]) classProbs(mask [][]int) map[int][]T {

	var z T
	ncol := 3 * (hmm.N + 1)
	probs := make(map[int][]T)

	for i := 0; i < 3; i++ {
		for j := 0; j < hmm.N+1; j++ {
			em := mask[i][j]
			pr, ok := probs[em]
			if !ok {
				pr = make([]T, hmm.NState)
				for st := range pr {
					pr[st] = z.Const(0)
				}
				probs[em] = pr
			}
			col := (hmm.N+1)*i + j
			for st := 0; st < hmm.NState; st++ {
				pr[st] = pr[st].Add(hmm.Emission[st*ncol+col])
			}
		}
	}

	return probs
}

// RecomputeB recalculates the emission probabilities of every block
// signature from the current emission matrix.  It must be called after
// any change to the emission matrix, before the next Estep or Q.  The
// cache is unchanged if an error is returned.
func (hmm *HMM[T]) RecomputeB() error {

	hmm.msglogger.Printf("recompute B")

	maskProbs := hmm.classProbs(hmm.EmissionMask)
	twoProbs := hmm.classProbs(hmm.TwoMask)

	// Each signature writes only its own slot.
	next := make([]entry[T], len(hmm.cache))
	res := parallel.RangeReduce(0, len(next), 0, func(low, high int) interface{} {
		var merr *multierror.Error
		for s := low; s < high; s++ {
			e, err := hmm.signatureProb(s, maskProbs, twoProbs)
			if err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			next[s] = e
		}
		return merr
	}, func(x, y interface{}) interface{} {
		return multierror.Append(x.(*multierror.Error), y.(*multierror.Error))
	})

	if err := res.(*multierror.Error).ErrorOrNil(); err != nil {
		return hmm.domainError(err)
	}

	hmm.cache = next
	return nil
}

// signatureProb returns the emission probabilities of signature s given
// the per-class probabilities.
func (hmm *HMM[T]) signatureProb(s int, maskProbs, twoProbs map[int][]T) (entry[T], error) {

	var z T
	key := hmm.comp.Keys[s]
	mask, prbs := hmm.TwoMask, twoProbs
	if key.Alt {
		mask, prbs = hmm.EmissionMask, maskProbs
	}

	logp := make([]T, hmm.NState)
	for st := range logp {
		logp[st] = z.Const(0)
	}

	ob := make([]T, hmm.NState)
	for _, p := range key.Powers {

		// Loci missing both values carry no information.
		cls := blocks.Reachable(p.A, p.B, mask)
		if len(cls) == 0 {
			continue
		}

		copy(ob, prbs[cls[0]])
		for _, x := range cls[1:] {
			for st := range ob {
				ob[st] = ob[st].Add(prbs[x][st])
			}
		}

		k := float64(p.Count)
		for st := range logp {
			logp[st] = logp[st].Add(ob[st].Log().MulFloat(k))
		}
	}

	lc := blocks.LogBig(hmm.comp.Coef[s])
	e := entry[T]{
		prob:    make([]T, hmm.NState),
		logProb: logp,
	}
	for st := range logp {
		logp[st] = logp[st].AddFloat(lc)
		e.prob[st] = logp[st].Exp()
	}
	e.dprob = adouble.Values(e.prob)

	for st := range e.prob {
		v := e.dprob[st]
		if !(v >= 0 && v <= 1+probTol) {
			return e, fmt.Errorf("signature %d: probability %g not in [0, 1] for state %d", s, v, st)
		}
		if !e.prob[st].Finite() || !logp[st].Finite() {
			return e, fmt.Errorf("signature %d: non-finite probability for state %d", s, st)
		}
	}

	return e, nil
}
