// Package blocks compresses a run-length encoded stream of loci into a
// sequence of blocks.  Blocks with the same signature are interchangeable
// for probability calculations, so each distinct signature is stored once
// together with its exact combinatorial multiplicity.
package blocks

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

// Missing is the code for an unobserved allele class or derived count.
const Missing = -1

// ErrMalformedInput is returned when the observation stream is
// inconsistent with the declared configuration.
var ErrMalformedInput = errors.New("blocks: malformed input")

// Obs is one row of the run-length encoded observation stream: R
// consecutive loci with allele class A and derived count B.
type Obs struct {
	R int
	A int
	B int
}

// Config describes how loci are grouped into blocks.
type Config struct {

	// Number of observed haplotypes, B ranges over 0..N
	N int

	// Lengths of normal and alt blocks
	BlockSize    int
	AltBlockSize int

	// Block i is an alt block iff (i+MaskOffset) % MaskFreq == 0
	MaskFreq   int
	MaskOffset int

	// The declared number of loci in the stream
	TotalLoci int

	// Maps (a, b) to an emission class in alt blocks, 3 x (N+1)
	EmissionMask [][]int

	// Maps (a, b) to an emission class in normal blocks, 3 x (N+1)
	TwoMask [][]int
}

// Power is the number of loci in a block having a given (A, B) value.
type Power struct {
	A     int
	B     int
	Count int
}

// Key is the signature of a block.  Powers is sorted by (A, B).
type Key struct {
	Alt    bool
	Powers []Power
}

// Loci returns the number of loci summarized by the key.
func (key Key) Loci() int {
	var n int
	for _, p := range key.Powers {
		n += p.Count
	}
	return n
}

func (key Key) equal(other Key) bool {
	if key.Alt != other.Alt || len(key.Powers) != len(other.Powers) {
		return false
	}
	for i := range key.Powers {
		if key.Powers[i] != other.Powers[i] {
			return false
		}
	}
	return true
}

// Compression is the result of compressing an observation stream.
type Compression struct {

	// Keys[s] is the signature with id s
	Keys []Key

	// Coef[s] is the number of locus orderings consistent with Keys[s]
	Coef []*big.Int

	// BlockSig[ell] is the signature id of block ell
	BlockSig []int

	// BlockLen[ell] is the number of loci in block ell
	BlockLen []int

	// Groups[s] lists the blocks having signature s, in increasing order
	Groups [][]int
}

// NumSig returns the number of distinct signatures.
func (comp *Compression) NumSig() int {
	return len(comp.Keys)
}

// NumBlocks returns the number of blocks in the compressed sequence.
func (comp *Compression) NumBlocks() int {
	return len(comp.BlockSig)
}

// IsAlt returns true if block follows the alt block length.
func IsAlt(block, maskFreq, maskOffset int) bool {
	return (block+maskOffset)%maskFreq == 0
}

// NumBlocks returns the number of blocks needed to cover totalLoci loci.
func NumBlocks(totalLoci, blockSize, altBlockSize, maskFreq, maskOffset int) int {

	if totalLoci <= 0 {
		return 0
	}

	// Every run of maskFreq consecutive blocks contains exactly one alt block.
	period := (maskFreq-1)*blockSize + altBlockSize
	nb := (totalLoci / period) * maskFreq
	remain := totalLoci % period

	for remain > 0 {
		if IsAlt(nb, maskFreq, maskOffset) {
			remain -= altBlockSize
		} else {
			remain -= blockSize
		}
		nb++
	}

	return nb
}

// MakeTwoMask returns a mask that only distinguishes whether the allele
// class is 1.
func MakeTwoMask(rows, cols int) [][]int {

	mask := make([][]int, rows)
	for i := range mask {
		mask[i] = make([]int, cols)
		if i == 1 {
			for j := range mask[i] {
				mask[i][j] = 1
			}
		}
	}

	return mask
}

func (cfg *Config) blockLen(block int) int {
	if IsAlt(block, cfg.MaskFreq, cfg.MaskOffset) {
		return cfg.AltBlockSize
	}
	return cfg.BlockSize
}

// Mask returns the mask used for blocks of the given kind.
func (cfg *Config) Mask(alt bool) [][]int {
	if alt {
		return cfg.EmissionMask
	}
	return cfg.TwoMask
}

func (cfg *Config) validate() error {

	if cfg.N < 0 {
		return fmt.Errorf("%w: negative haplotype count %d", ErrMalformedInput, cfg.N)
	}
	if cfg.BlockSize < 1 || cfg.AltBlockSize < 1 {
		return fmt.Errorf("%w: block sizes %d/%d must be positive", ErrMalformedInput,
			cfg.BlockSize, cfg.AltBlockSize)
	}
	if cfg.MaskFreq < 1 {
		return fmt.Errorf("%w: mask frequency %d must be positive", ErrMalformedInput, cfg.MaskFreq)
	}

	for _, mask := range [][][]int{cfg.EmissionMask, cfg.TwoMask} {
		if len(mask) != 3 {
			return fmt.Errorf("%w: mask has %d rows, expected 3", ErrMalformedInput, len(mask))
		}
		for _, row := range mask {
			if len(row) != cfg.N+1 {
				return fmt.Errorf("%w: mask has %d columns, expected %d", ErrMalformedInput,
					len(row), cfg.N+1)
			}
		}
	}

	return nil
}

// Compress groups the loci of obs into blocks and deduplicates the block
// signatures.
func Compress(obs []Obs, cfg Config) (*Compression, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	comp := new(Compression)
	index := newSigIndex()

	powers := make(map[[2]int]int)
	var inblock, block, tobs int
	target := cfg.blockLen(0)

	closeBlock := func() {
		key := makeKey(IsAlt(block, cfg.MaskFreq, cfg.MaskOffset), powers)
		id, ok := index.find(key, comp.Keys)
		if !ok {
			id = len(comp.Keys)
			comp.Keys = append(comp.Keys, key)
			comp.Coef = append(comp.Coef, Multiplicity(key, cfg.Mask(key.Alt)))
			comp.Groups = append(comp.Groups, nil)
			index.add(key, id)
		}
		comp.BlockSig = append(comp.BlockSig, id)
		comp.BlockLen = append(comp.BlockLen, inblock)
		comp.Groups[id] = append(comp.Groups[id], block)

		block++
		inblock = 0
		target = cfg.blockLen(block)
		for k := range powers {
			delete(powers, k)
		}
	}

	for row, ob := range obs {

		if ob.R < 0 {
			return nil, fmt.Errorf("%w: row %d has negative repeat count %d", ErrMalformedInput, row, ob.R)
		}
		if ob.A < Missing || ob.A > 2 || ob.B < Missing || ob.B > cfg.N {
			return nil, fmt.Errorf("%w: row %d has observation (%d, %d) out of range", ErrMalformedInput,
				row, ob.A, ob.B)
		}

		for r := 0; r < ob.R; r++ {
			tobs++
			if tobs > cfg.TotalLoci {
				return nil, fmt.Errorf("%w: more than %d loci in the stream", ErrMalformedInput, cfg.TotalLoci)
			}
			powers[[2]int{ob.A, ob.B}]++
			inblock++
			if inblock == target {
				closeBlock()
			}
		}
	}

	// The final block may be short
	if inblock > 0 {
		closeBlock()
	}

	return comp, nil
}

func makeKey(alt bool, powers map[[2]int]int) Key {

	key := Key{
		Alt:    alt,
		Powers: make([]Power, 0, len(powers)),
	}
	for ab, k := range powers {
		key.Powers = append(key.Powers, Power{A: ab[0], B: ab[1], Count: k})
	}
	sort.Slice(key.Powers, func(i, j int) bool {
		pi, pj := key.Powers[i], key.Powers[j]
		if pi.A != pj.A {
			return pi.A < pj.A
		}
		return pi.B < pj.B
	})

	return key
}
