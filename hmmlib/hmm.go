// Package hmmlib computes the likelihood and the EM sufficient statistics
// of a hidden Markov model over blocks of genomic loci.  The emission
// probabilities are differentiable functions of the model parameters, so
// the EM objective Q can be returned together with its gradient.
package hmmlib

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/grahamgower/smcpp/adouble"
	"github.com/grahamgower/smcpp/blocks"
)

const (
	// AltBlockSize is the number of loci in every alt block
	AltBlockSize = 1

	// Cached probabilities may exceed 1 by this much due to rounding
	probTol = 1e-10
)

// ErrNumericalDomain is returned when a scaling constant, probability or
// objective term is not finite, or a probability is outside [0, 1].  The
// caller should adjust the parameters and rerun the whole E-step.
var ErrNumericalDomain = errors.New("hmmlib: numerical domain error")

// entry holds the cached emission probabilities for one block signature.
type entry[T adouble.Number[T]] struct {

	// The probability of the block given each hidden state
	prob []T

	// The elementwise log of prob
	logProb []T

	// The double precision projection of prob
	dprob []float64
}

// HMM is a hidden Markov model whose time steps are blocks of loci.  The
// parameters Init, Trans and Emission are owned by the caller and are
// never modified.
type HMM[T adouble.Number[T]] struct {

	// Number of hidden states
	NState int

	// Number of observed haplotypes
	N int

	// Number of blocks
	NBlock int

	// Number of loci in normal and alt blocks
	BlockSize    int
	AltBlockSize int

	// Block i is an alt block iff (i+MaskOffset) % MaskFreq == 0
	MaskFreq   int
	MaskOffset int

	// The initial probability distribution
	Init []T

	// The transition probability matrix, NState x NState row-major
	Trans []T

	// The emission probability matrix, NState x 3(N+1) row-major.  Column
	// (N+1)*a+b holds allele class a and derived count b.
	Emission []T

	// Maps (a, b) to an emission class in alt blocks
	EmissionMask [][]int

	// Maps (a, b) to an emission class in normal blocks
	TwoMask [][]int

	// Sufficient statistics for transitions out of normal and alt blocks,
	// NState x NState row-major
	Xisum    []float64
	XisumAlt []float64

	// The block structure of the observations
	comp *blocks.Compression

	// cache[s] holds the emission probabilities of signature s
	cache []entry[T]

	// Scaled forward and backward probabilities, and their product
	alphaHat [][]float64
	betaHat  [][]float64
	gamma    [][]float64

	// The scaling constants of the forward recursion
	c []float64

	// Write log messages here
	msglogger *log.Logger
	parlogger *log.Logger
}

// New returns an HMM for the observation stream obs.  The emission
// probabilities are placeholders until RecomputeB is called.
func New[T adouble.Number[T]](obs []blocks.Obs, n, blockSize int, pi, trans, emission []T,
	emissionMask [][]int, maskFreq, maskOffset int) (*HMM[T], error) {

	nstate := len(pi)
	if nstate == 0 {
		return nil, fmt.Errorf("%w: empty initial distribution", blocks.ErrMalformedInput)
	}
	if len(trans) != nstate*nstate {
		return nil, fmt.Errorf("%w: transition matrix has %d entries, expected %d",
			blocks.ErrMalformedInput, len(trans), nstate*nstate)
	}
	if len(emission) != nstate*3*(n+1) {
		return nil, fmt.Errorf("%w: emission matrix has %d entries, expected %d",
			blocks.ErrMalformedInput, len(emission), nstate*3*(n+1))
	}

	var total int
	for _, ob := range obs {
		total += ob.R
	}

	hmm := &HMM[T]{
		NState:       nstate,
		N:            n,
		BlockSize:    blockSize,
		AltBlockSize: AltBlockSize,
		MaskFreq:     maskFreq,
		MaskOffset:   maskOffset,
		Init:         pi,
		Trans:        trans,
		Emission:     emission,
		EmissionMask: emissionMask,
		TwoMask:      blocks.MakeTwoMask(3, n+1),
		msglogger:    log.New(os.Stderr, "", log.Ltime),
		parlogger:    log.New(os.Stderr, "", 0),
	}

	hmm.msglogger.Printf("preparing B")
	comp, err := blocks.Compress(obs, blocks.Config{
		N:            n,
		BlockSize:    blockSize,
		AltBlockSize: AltBlockSize,
		MaskFreq:     maskFreq,
		MaskOffset:   maskOffset,
		TotalLoci:    total,
		EmissionMask: emissionMask,
		TwoMask:      hmm.TwoMask,
	})
	if err != nil {
		return nil, err
	}

	hmm.NBlock = blocks.NumBlocks(total, blockSize, AltBlockSize, maskFreq, maskOffset)
	if hmm.NBlock == 0 {
		return nil, fmt.Errorf("%w: no loci", blocks.ErrMalformedInput)
	}
	if comp.NumBlocks() != hmm.NBlock {
		return nil, fmt.Errorf("%w: %d blocks produced, expected %d", blocks.ErrMalformedInput,
			comp.NumBlocks(), hmm.NBlock)
	}
	hmm.comp = comp

	hmm.initialize()
	hmm.msglogger.Printf("%d loci in %d blocks with %d distinct signatures\n", total, hmm.NBlock, comp.NumSig())

	return hmm, nil
}

// initialize allocates the workspaces and fills the cache with placeholders.
func (hmm *HMM[T]) initialize() {

	var z T
	one, zero := z.Const(1), z.Const(0)

	hmm.cache = make([]entry[T], hmm.comp.NumSig())
	for s := range hmm.cache {
		e := entry[T]{
			prob:    make([]T, hmm.NState),
			logProb: make([]T, hmm.NState),
			dprob:   make([]float64, hmm.NState),
		}
		for j := 0; j < hmm.NState; j++ {
			e.prob[j] = one
			e.logProb[j] = zero
			e.dprob[j] = 1
		}
		hmm.cache[s] = e
	}

	hmm.alphaHat = makeFloatArray(hmm.NBlock, hmm.NState)
	hmm.betaHat = makeFloatArray(hmm.NBlock, hmm.NState)
	hmm.gamma = makeFloatArray(hmm.NBlock, hmm.NState)
	hmm.c = make([]float64, hmm.NBlock)
	hmm.Xisum = make([]float64, hmm.NState*hmm.NState)
	hmm.XisumAlt = make([]float64, hmm.NState*hmm.NState)
}

// SetLogger directs log messages to files with the given prefix.
func (hmm *HMM[T]) SetLogger(logname string) (*log.Logger, error) {

	fid, err := os.Create(logname + "_msg.log")
	if err != nil {
		return nil, err
	}
	hmm.msglogger = log.New(fid, "", log.Ltime)

	fid, err = os.Create(logname + "_par.log")
	if err != nil {
		return nil, err
	}
	hmm.parlogger = log.New(fid, "", 0)

	// The calling program can also use this logger
	return hmm.msglogger, nil
}

// SetOutput directs all log messages to w.
func (hmm *HMM[T]) SetOutput(w io.Writer) {
	hmm.msglogger.SetOutput(w)
	hmm.parlogger.SetOutput(w)
}

// IsAltBlock returns true if block ell has the alt block length.
func (hmm *HMM[T]) IsAltBlock(ell int) bool {
	return blocks.IsAlt(ell, hmm.MaskFreq, hmm.MaskOffset)
}

// Compression returns the block structure of the observations.
func (hmm *HMM[T]) Compression() *blocks.Compression {
	return hmm.comp
}

// BlockProb returns the cached emission probabilities of block ell.
func (hmm *HMM[T]) BlockProb(ell int) []T {
	return hmm.cache[hmm.comp.BlockSig[ell]].prob
}

// BlockLogProb returns the log of the cached emission probabilities of block ell.
func (hmm *HMM[T]) BlockLogProb(ell int) []T {
	return hmm.cache[hmm.comp.BlockSig[ell]].logProb
}

// dB returns the double precision emission probabilities of block ell.
func (hmm *HMM[T]) dB(ell int) []float64 {
	return hmm.cache[hmm.comp.BlockSig[ell]].dprob
}

// AlphaHat returns the scaled forward probabilities, one row per block.
func (hmm *HMM[T]) AlphaHat() [][]float64 {
	return hmm.alphaHat
}

// BetaHat returns the scaled backward probabilities, one row per block.
func (hmm *HMM[T]) BetaHat() [][]float64 {
	return hmm.betaHat
}

// Gamma returns the posterior state probabilities, one row per block.
func (hmm *HMM[T]) Gamma() [][]float64 {
	return hmm.gamma
}

// Scale returns the scaling constants of the forward recursion.
func (hmm *HMM[T]) Scale() []float64 {
	return hmm.c
}

// Loglik returns the log-likelihood computed by the last forward pass.
func (hmm *HMM[T]) Loglik() float64 {
	var ret float64
	for _, c := range hmm.c {
		ret += math.Log(c)
	}
	return ret
}

// domainError writes the current parameters to the parameter log and
// wraps err as a numerical domain error.
func (hmm *HMM[T]) domainError(err error) error {
	hmm.WriteSummary("Parameters at numerical failure:")
	return fmt.Errorf("%w: %w", ErrNumericalDomain, err)
}

// WriteSummary writes the model parameters to the parameter log.
func (hmm *HMM[T]) WriteSummary(title string) {

	hmm.parlogger.Print(title)
	hmm.parlogger.Printf("\n")

	hmm.parlogger.Printf("Initial states distribution:\n")
	hmm.writeMatrix(adouble.Values(hmm.Init), 1, hmm.NState)
	hmm.parlogger.Printf("\n")

	hmm.parlogger.Printf("Transition matrix:\n")
	hmm.writeMatrix(adouble.Values(hmm.Trans), hmm.NState, hmm.NState)
	hmm.parlogger.Printf("\n")

	hmm.parlogger.Printf("Emission matrix:\n")
	hmm.writeMatrix(adouble.Values(hmm.Emission), hmm.NState, 3*(hmm.N+1))
	hmm.parlogger.Printf("\n")
}

// writeMatrix writes a matrix in text format to the logger
func (hmm *HMM[T]) writeMatrix(x []float64, nrow, ncol int) {

	var buf bytes.Buffer

	for i := 0; i < nrow; i++ {
		buf.Reset()
		for j := 0; j < ncol; j++ {
			_, _ = io.WriteString(&buf, fmt.Sprintf("%12.6g ", x[i*ncol+j]))
		}
		hmm.parlogger.Print(buf.String())
	}
}

// makeFloatArray makes a collection of r slices
// of length c, packed contiguously.
func makeFloatArray(r, c int) [][]float64 {

	bka := make([]float64, r*c)
	x := make([][]float64, r)
	ii := 0
	for j := 0; j < r; j++ {
		x[j] = bka[ii : ii+c]
		ii += c
	}

	return x
}
