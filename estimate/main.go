package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/schollz/progressbar/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/grahamgower/smcpp/adouble"
	"github.com/grahamgower/smcpp/blocks"
	"github.com/grahamgower/smcpp/hmmlib"
	"github.com/grahamgower/smcpp/runlog"
)

var (
	logger *log.Logger
)

// dualParams returns the parameters of pr with every entry an independent
// variable, numbered in the order pi, T, E.
func dualParams(pr *hmmlib.Problem) ([]adouble.Dual, []adouble.Dual, []adouble.Dual) {

	nvar := len(pr.Init) + len(pr.Trans) + len(pr.Emission)

	var ii int
	conv := func(x []float64) []adouble.Dual {
		y := make([]adouble.Dual, len(x))
		for i, v := range x {
			y[i] = adouble.Variable(v, ii, nvar)
			ii++
		}
		return y
	}

	pi := conv(pr.Init)
	trans := conv(pr.Trans)
	emission := conv(pr.Emission)

	return pi, trans, emission
}

func floatParams(x []float64) []adouble.Float {
	y := make([]adouble.Float, len(x))
	for i, v := range x {
		y[i] = adouble.Float(v)
	}
	return y
}

// paramName returns a label for the i'th parameter.
func paramName(pr *hmmlib.Problem, i int) string {

	nst := pr.NState()
	switch {
	case i < nst:
		return fmt.Sprintf("pi[%d]", i)
	case i < nst+nst*nst:
		i -= nst
		return fmt.Sprintf("T[%d,%d]", i/nst, i%nst)
	default:
		i -= nst + nst*nst
		ncol := 3 * (pr.N + 1)
		return fmt.Sprintf("E[%d,%d]", i/ncol, i%ncol)
	}
}

// checkGradient compares the gradient of Q with central differences,
// holding the posterior at the starting parameters fixed.  It returns the
// largest absolute discrepancy.
func checkGradient(pr *hmmlib.Problem, grad []float64, h float64) (float64, error) {

	fh, err := hmmlib.New(pr.Obs, pr.N, pr.BlockSize, floatParams(pr.Init), floatParams(pr.Trans),
		floatParams(pr.Emission), pr.EmissionMask, pr.MaskFreq, pr.MaskOffset)
	if err != nil {
		return 0, err
	}
	fh.SetOutput(io.Discard)
	if err := fh.RecomputeB(); err != nil {
		return 0, err
	}
	if err := fh.Estep(); err != nil {
		return 0, err
	}

	eval := func(x []adouble.Float, j int, d float64) (float64, error) {
		old := x[j]
		x[j] += adouble.Float(d)
		defer func() { x[j] = old }()
		if err := fh.RecomputeB(); err != nil {
			return 0, err
		}
		q, err := fh.Q()
		return q.Value(), err
	}

	logger.Printf("%-10s %14s %14s\n", "Parameter", "Gradient", "Difference")

	bar := progressbar.New(len(grad))
	var maxdiff float64
	var i int
	for _, x := range [][]adouble.Float{fh.Init, fh.Trans, fh.Emission} {
		for j := range x {
			qp, err := eval(x, j, h)
			if err != nil {
				return 0, err
			}
			qm, err := eval(x, j, -h)
			if err != nil {
				return 0, err
			}
			fd := (qp - qm) / (2 * h)
			logger.Printf("%-10s %14.6g %14.6g\n", paramName(pr, i), grad[i], fd)
			maxdiff = math.Max(maxdiff, math.Abs(fd-grad[i]))
			i++
			_ = bar.Add(1)
		}
	}
	fmt.Fprintln(os.Stderr)

	return maxdiff, nil
}

// plotPosterior writes a plot of the posterior state probabilities of
// each block to fname.
func plotPosterior(gamma [][]float64, nstate int, fname string) error {

	p := plot.New()
	p.Title.Text = "Posterior state probabilities"
	p.X.Label.Text = "Block"
	p.Y.Label.Text = "Probability"

	for st := 0; st < nstate; st++ {
		pts := make(plotter.XYs, len(gamma))
		for ell := range gamma {
			pts[ell].X = float64(ell)
			pts[ell].Y = gamma[ell][st]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(st)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("state %d", st), line)
	}

	return p.Save(10*vg.Inch, 4*vg.Inch, fname)
}

// decodingAccuracy returns the number of blocks whose most probable
// posterior state is the simulated state at the first locus of the block.
func decodingAccuracy(comp *blocks.Compression, gamma [][]float64, states []int) int {

	var pos, agree int
	for ell, m := range comp.BlockLen {
		if floats.MaxIdx(gamma[ell]) == states[pos] {
			agree++
		}
		pos += m
	}

	return agree
}

func fail(err error) {
	if errors.Is(err, hmmlib.ErrNumericalDomain) {
		logger.Printf("Numerical failure, the parameters are in the parameter log: %v", err)
	}
	panic(err)
}

func main() {

	gobname := flag.String("gobfile", "", "The data file")
	logname := flag.String("logname", "hmm", "Prefix of log file")
	plotname := flag.String("plot", "", "Write a plot of the posterior state probabilities to this file")
	dbname := flag.String("db", "", "Record the results in this SQLite database")
	check := flag.Bool("check", false, "Compare the gradient of Q to finite differences")
	h := flag.Float64("h", 1e-6, "Step size for finite differences")
	flag.Parse()

	if *gobname == "" {
		_, _ = io.WriteString(os.Stderr, "'gobfile' is a required argument")
		os.Exit(1)
	}

	pr, err := hmmlib.ReadProblem(*gobname)
	if err != nil {
		panic(err)
	}

	pi, trans, emission := dualParams(pr)
	hmm, err := hmmlib.New(pr.Obs, pr.N, pr.BlockSize, pi, trans, emission, pr.EmissionMask,
		pr.MaskFreq, pr.MaskOffset)
	if err != nil {
		panic(err)
	}
	logger, err = hmm.SetLogger(*logname)
	if err != nil {
		panic(err)
	}
	hmm.WriteSummary("Parameters:")

	bar := progressbar.New(3)
	if err := hmm.RecomputeB(); err != nil {
		fail(err)
	}
	_ = bar.Add(1)
	if err := hmm.Estep(); err != nil {
		fail(err)
	}
	_ = bar.Add(1)
	q, err := hmm.Q()
	if err != nil {
		fail(err)
	}
	_ = bar.Add(1)
	fmt.Fprintln(os.Stderr)

	grad := make([]float64, len(pi)+len(trans)+len(emission))
	for i := range grad {
		grad[i] = q.Deriv(i)
	}

	logger.Printf("Log-likelihood: %f", hmm.Loglik())
	logger.Printf("Q: %f", q.Value())
	logger.Printf("Gradient norm: %f", floats.Norm(grad, 2))

	comp := hmm.Compression()
	var nloci int
	for _, m := range comp.BlockLen {
		nloci += m
	}
	if len(pr.States) != nloci {
		logger.Printf("No simulated states to compare with")
	} else {
		agree := decodingAccuracy(comp, hmm.Gamma(), pr.States)
		logger.Printf("%d/%d blocks decoded correctly\n", agree, hmm.NBlock)
	}

	if *check {
		maxdiff, err := checkGradient(pr, grad, *h)
		if err != nil {
			fail(err)
		}
		logger.Printf("Largest gradient discrepancy: %g", maxdiff)
	}

	if *plotname != "" {
		if err := plotPosterior(hmm.Gamma(), hmm.NState, *plotname); err != nil {
			panic(err)
		}
	}

	if *dbname != "" {
		rl, err := runlog.Open(*dbname)
		if err != nil {
			panic(err)
		}
		defer rl.Close()
		err = rl.Record(runlog.Entry{
			Source:   *gobname,
			NState:   hmm.NState,
			NBlock:   hmm.NBlock,
			NSig:     comp.NumSig(),
			Loglik:   hmm.Loglik(),
			Q:        q.Value(),
			GradNorm: floats.Norm(grad, 2),
		})
		if err != nil {
			panic(err)
		}
		logger.Printf("Recorded run %s in %s", rl.RunID, *dbname)
	}
}
