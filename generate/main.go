package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/schollz/progressbar/v2"

	"github.com/grahamgower/smcpp/blocks"
	"github.com/grahamgower/smcpp/hmmlib"
	"github.com/grahamgower/smcpp/hmmsim"
)

func main() {

	var outname string
	flag.StringVar(&outname, "outname", "", "Output file name")

	var nState, n, nLoci, blockSize, maskFreq, maskOffset int
	flag.IntVar(&nState, "nstate", 4, "Number of states")
	flag.IntVar(&n, "n", 4, "Number of observed haplotypes")
	flag.IntVar(&nLoci, "nloci", 100000, "Number of loci")
	flag.IntVar(&blockSize, "blocksize", 50, "Number of loci in a normal block")
	flag.IntVar(&maskFreq, "maskfreq", 10, "Every maskfreq'th block is an alt block")
	flag.IntVar(&maskOffset, "maskoffset", 0, "Offset of the alt block pattern")

	var missing float64
	flag.Float64Var(&missing, "missing", 0.05, "Fraction of blocks with missing data")

	var seed int64
	flag.Int64Var(&seed, "seed", 0, "Random seed, the current time if 0")
	flag.Parse()

	if outname == "" {
		panic("'outname' is required")
	}

	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	pi, trans, emission := hmmsim.DefaultParams(nState, n)
	pr := &hmmlib.Problem{
		N:            n,
		BlockSize:    blockSize,
		MaskFreq:     maskFreq,
		MaskOffset:   maskOffset,
		Init:         pi,
		Trans:        trans,
		Emission:     emission,
		EmissionMask: hmmsim.IdentityMask(n),
		States:       make([]int, 0, nLoci),
	}

	sim, err := hmmsim.NewSimulator(pr, rng, missing)
	if err != nil {
		panic(err)
	}

	// Report progress in steps of 1000 loci
	bar := progressbar.New((nLoci + 999) / 1000)
	for i := 0; i < nLoci; i++ {
		st, ob := sim.Step()
		pr.States = append(pr.States, st)
		pr.Obs = hmmsim.Append(pr.Obs, ob)
		if (i+1)%1000 == 0 || i+1 == nLoci {
			_ = bar.Add(1)
		}
	}
	fmt.Fprintln(os.Stderr)

	if err := hmmlib.WriteProblem(outname, pr); err != nil {
		panic(err)
	}

	fmt.Printf("%d loci in %d rows, %d blocks, seed %d\n", nLoci, len(pr.Obs),
		blocks.NumBlocks(nLoci, blockSize, hmmlib.AltBlockSize, maskFreq, maskOffset), seed)
}
