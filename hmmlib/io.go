package hmmlib

import (
	"compress/gzip"
	"encoding/gob"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/grahamgower/smcpp/blocks"
)

// Problem is an observation stream together with the model settings and
// the parameter values at which to evaluate it.
type Problem struct {

	// The run-length encoded observations
	Obs []blocks.Obs

	// Number of observed haplotypes
	N int

	// Block structure
	BlockSize  int
	MaskFreq   int
	MaskOffset int

	// The model parameters, row-major
	Init     []float64
	Trans    []float64
	Emission []float64

	// Maps (a, b) to an emission class in alt blocks
	EmissionMask [][]int

	// The hidden states used to simulate the data, one per locus.  Empty
	// for observed data.
	States []int
}

// NState returns the number of hidden states.
func (pr *Problem) NState() int {
	return len(pr.Init)
}

// ReadProblem reads a Problem value from a gzip-compressed gob file.
func ReadProblem(fname string) (pr *Problem, err error) {

	fid, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := fid.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	gid, err := gzip.NewReader(fid)
	if err != nil {
		return nil, err
	}
	defer gid.Close()

	dec := gob.NewDecoder(gid)

	pr = new(Problem)
	if err := dec.Decode(pr); err != nil {
		return nil, err
	}

	return pr, nil
}

// WriteProblem writes pr to a gzip-compressed gob file.
func WriteProblem(fname string, pr *Problem) error {

	fid, err := os.Create(fname)
	if err != nil {
		return err
	}

	gid := gzip.NewWriter(fid)
	enc := gob.NewEncoder(gid)

	// Both writers must be closed for the file to be complete
	var merr *multierror.Error
	if err := enc.Encode(pr); err != nil {
		merr = multierror.Append(merr, err)
	}
	if cerr := gid.Close(); cerr != nil {
		merr = multierror.Append(merr, cerr)
	}
	if cerr := fid.Close(); cerr != nil {
		merr = multierror.Append(merr, cerr)
	}

	return merr.ErrorOrNil()
}
