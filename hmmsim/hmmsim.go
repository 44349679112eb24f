// Package hmmsim simulates observation streams from a blocked HMM.
package hmmsim

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/grahamgower/smcpp/blocks"
	"github.com/grahamgower/smcpp/hmmlib"
)

// DefaultParams returns parameters for an nstate-state model with n
// observed haplotypes.  Higher states have more heterozygous loci.
func DefaultParams(nstate, n int) (pi, trans, emission []float64) {

	// Set the transition matrix
	trans = make([]float64, nstate*nstate)
	if nstate == 1 {
		trans[0] = 1
	} else {
		for i := 0; i < nstate; i++ {
			p := 0.98 + 0.01*float64(i)/float64(nstate-1)
			for j := 0; j < nstate; j++ {
				if i == j {
					trans[i*nstate+j] = p
				} else {
					trans[i*nstate+j] = (1 - p) / float64(nstate-1)
				}
			}
		}
	}

	// Set the initial state probabilities
	pi = make([]float64, nstate)
	for i := range pi {
		pi[i] = 1 / float64(nstate)
	}

	// The allele class and the derived count are independent given the state
	ncol := 3 * (n + 1)
	emission = make([]float64, nstate*ncol)
	derived := distuv.Binomial{N: float64(n), P: 0.3}
	for i := 0; i < nstate; i++ {
		h := 0.02
		if nstate > 1 {
			h += 0.2 * float64(i) / float64(nstate-1)
		}
		pa := []float64{0.8 * (1 - h), h, 0.2 * (1 - h)}
		for a := 0; a < 3; a++ {
			for b := 0; b <= n; b++ {
				emission[i*ncol+(n+1)*a+b] = pa[a] * derived.Prob(float64(b))
			}
		}
	}

	return pi, trans, emission
}

// IdentityMask returns a mask that gives every (a, b) pair its own
// emission class.
func IdentityMask(n int) [][]int {

	mask := make([][]int, 3)
	for a := range mask {
		mask[a] = make([]int, n+1)
		for b := range mask[a] {
			mask[a][b] = (n+1)*a + b
		}
	}

	return mask
}

// genDiscrete draws from the distribution pr.
func genDiscrete(rng *rand.Rand, pr []float64) int {

	u := rng.Float64()
	p := 0.0
	for j := range pr {
		p += pr[j]
		if u < p {
			return j
		}
	}

	// Rounding in the cumulative sum
	return len(pr) - 1
}

// Missingness patterns shared by all loci of a block
const (
	observed = iota
	alleleMissing
	derivedMissing
	bothMissing
)

// Simulator generates one locus at a time from a per-locus Markov chain.
// Missing data are simulated per block, every locus of a block having the
// same missingness pattern.
type Simulator struct {

	// A block is affected by missing data with this probability
	Missing float64

	pr      *hmmlib.Problem
	rng     *rand.Rand
	state   int
	started bool

	// Position in the block structure
	block   int
	inblock int
	pattern int
}

// NewSimulator returns a Simulator for the parameters in pr.
func NewSimulator(pr *hmmlib.Problem, rng *rand.Rand, missing float64) (*Simulator, error) {

	nst := pr.NState()
	if nst == 0 || len(pr.Trans) != nst*nst || len(pr.Emission) != nst*3*(pr.N+1) {
		return nil, fmt.Errorf("%w: inconsistent parameter dimensions", blocks.ErrMalformedInput)
	}
	if pr.BlockSize < 1 || pr.MaskFreq < 1 {
		return nil, fmt.Errorf("%w: block size %d and mask frequency %d must be positive",
			blocks.ErrMalformedInput, pr.BlockSize, pr.MaskFreq)
	}

	return &Simulator{
		Missing: missing,
		pr:      pr,
		rng:     rng,
	}, nil
}

func (sim *Simulator) blockLen() int {
	if blocks.IsAlt(sim.block, sim.pr.MaskFreq, sim.pr.MaskOffset) {
		return hmmlib.AltBlockSize
	}
	return sim.pr.BlockSize
}

// Step advances the chain by one locus and returns the hidden state and
// the observation.
func (sim *Simulator) Step() (int, blocks.Obs) {

	nst := sim.pr.NState()
	if !sim.started {
		sim.state = genDiscrete(sim.rng, sim.pr.Init)
		sim.started = true
	} else {
		sim.state = genDiscrete(sim.rng, sim.pr.Trans[sim.state*nst:(sim.state+1)*nst])
	}

	if sim.inblock == 0 {
		sim.pattern = observed
		if sim.rng.Float64() < sim.Missing {
			sim.pattern = 1 + sim.rng.Intn(3)
		}
	}

	ncol := 3 * (sim.pr.N + 1)
	col := genDiscrete(sim.rng, sim.pr.Emission[sim.state*ncol:(sim.state+1)*ncol])
	ob := blocks.Obs{R: 1, A: col / (sim.pr.N + 1), B: col % (sim.pr.N + 1)}

	switch sim.pattern {
	case alleleMissing:
		ob.A = blocks.Missing
	case derivedMissing:
		ob.B = blocks.Missing
	case bothMissing:
		ob.A, ob.B = blocks.Missing, blocks.Missing
	}

	sim.inblock++
	if sim.inblock == sim.blockLen() {
		sim.block++
		sim.inblock = 0
	}

	return sim.state, ob
}

// Append adds ob to the run-length encoded stream obs.
func Append(obs []blocks.Obs, ob blocks.Obs) []blocks.Obs {

	if k := len(obs) - 1; k >= 0 && obs[k].A == ob.A && obs[k].B == ob.B {
		obs[k].R += ob.R
		return obs
	}

	return append(obs, ob)
}

// Simulate fills pr.Obs and pr.States with nloci simulated loci.
func Simulate(pr *hmmlib.Problem, rng *rand.Rand, nloci int, missing float64) error {

	sim, err := NewSimulator(pr, rng, missing)
	if err != nil {
		return err
	}

	pr.Obs = pr.Obs[:0]
	pr.States = make([]int, nloci)
	for i := 0; i < nloci; i++ {
		st, ob := sim.Step()
		pr.States[i] = st
		pr.Obs = Append(pr.Obs, ob)
	}

	return nil
}
