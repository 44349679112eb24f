package hmmlib

import (
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/grahamgower/smcpp/adouble"
	"github.com/grahamgower/smcpp/blocks"
)

// fixedPosteriorQ returns a function that evaluates Q at perturbed
// parameters, holding the posterior from the starting parameters fixed.
func fixedPosteriorQ(t *testing.T, hmm *HMM[adouble.Float]) func(i int, h float64) float64 {

	params := [][]adouble.Float{hmm.Init, hmm.Trans, hmm.Emission}

	return func(i int, h float64) float64 {
		for _, x := range params {
			if i < len(x) {
				old := x[i]
				x[i] += adouble.Float(h)
				defer func(x []adouble.Float, i int) { x[i] = old }(x, i)
				break
			}
			i -= len(x)
		}
		require.NoError(t, hmm.RecomputeB())
		q, err := hmm.Q()
		require.NoError(t, err)
		return q.Value()
	}
}

func TestQGradient(t *testing.T) {

	rng := rand.New(rand.NewSource(11))
	n, nst := 2, 2

	for _, cfg := range [][3]int{{2, 3, 0}, {4, 2, 1}, {1, 1, 0}} {

		bs, freq, off := cfg[0], cfg[1], cfg[2]
		pi, trans, emission := randomModel(rng, nst, n)
		obs := randomObs(rng, 15, n)
		nvar := len(pi) + len(trans) + len(emission)

		dh, err := New(obs, n, bs, toDual(pi, 0, nvar), toDual(trans, len(pi), nvar),
			toDual(emission, len(pi)+len(trans), nvar), identityMask(n), freq, off)
		require.NoError(t, err)
		dh.SetOutput(io.Discard)
		require.NoError(t, dh.RecomputeB())
		require.NoError(t, dh.Estep())
		dq, err := dh.Q()
		require.NoError(t, err)

		fh := newFloatHMM(t, obs, n, bs, pi, trans, emission, identityMask(n), freq, off)
		require.NoError(t, fh.RecomputeB())
		require.NoError(t, fh.Estep())
		fq, err := fh.Q()
		require.NoError(t, err)

		// Both instantiations agree on the posterior and on the value of Q
		assert.InDelta(t, fh.Loglik(), dh.Loglik(), 1e-12)
		assert.InDelta(t, fq.Value(), dq.Value(), 1e-10)

		qf := fixedPosteriorQ(t, fh)
		h := 1e-6
		for i := 0; i < nvar; i++ {
			fd := (qf(i, h) - qf(i, -h)) / (2 * h)
			g := dq.Deriv(i)
			if math.Abs(fd-g) > 1e-5*(1+math.Abs(g)) {
				t.Logf("bs=%d freq=%d off=%d param=%d\n", bs, freq, off, i)
				t.Logf("gradient=%f finite difference=%f\n", g, fd)
				t.Fail()
			}
		}
	}
}

func TestQTransitionDerivative(t *testing.T) {

	n := 2
	pi := []float64{0.6, 0.4}
	trans := []float64{0.9, 0.1, 0.2, 0.8}
	emission := []float64{
		0.10, 0.05, 0.05, 0.30, 0.10, 0.10, 0.10, 0.10, 0.10,
		0.30, 0.10, 0.10, 0.05, 0.05, 0.05, 0.15, 0.10, 0.10,
	}
	obs := []blocks.Obs{
		{R: 3, A: 0, B: 0},
		{R: 2, A: 1, B: 2},
		{R: 4, A: 2, B: 1},
	}

	// Only T[0][1] is a variable
	dtrans := make([]adouble.Dual, len(trans))
	for i, v := range trans {
		dtrans[i] = adouble.Constant(v)
	}
	dtrans[1] = adouble.Variable(trans[1], 0, 1)
	demission := make([]adouble.Dual, len(emission))
	for i, v := range emission {
		demission[i] = adouble.Constant(v)
	}
	dpi := []adouble.Dual{adouble.Constant(pi[0]), adouble.Constant(pi[1])}

	dh, err := New(obs, n, 2, dpi, dtrans, demission, identityMask(n), 3, 1)
	require.NoError(t, err)
	dh.SetOutput(io.Discard)
	require.NoError(t, dh.RecomputeB())
	require.NoError(t, dh.Estep())
	dq, err := dh.Q()
	require.NoError(t, err)

	fh := newFloatHMM(t, obs, n, 2, pi, trans, emission, identityMask(n), 3, 1)
	require.NoError(t, fh.RecomputeB())
	require.NoError(t, fh.Estep())
	qf := fixedPosteriorQ(t, fh)

	h := 1e-6
	fd := (qf(len(pi)+1, h) - qf(len(pi)+1, -h)) / (2 * h)
	assert.InDelta(t, fd, dq.Deriv(0), 1e-5*(1+math.Abs(fd)))
	assert.InDelta(t, qf(0, 0), dq.Value(), 1e-10)
}

func TestQSingleBlock(t *testing.T) {

	// With one block there are no transitions
	n := 1
	pi := []float64{0.3, 0.7}
	trans := []float64{0.5, 0.5, 0.5, 0.5}
	emission := []float64{
		0.10, 0.10, 0.30, 0.30, 0.10, 0.10,
		0.05, 0.05, 0.30, 0.40, 0.10, 0.10,
	}
	obs := []blocks.Obs{{R: 1, A: 1, B: 0}}

	hmm := newFloatHMM(t, obs, n, 4, pi, trans, emission, identityMask(n), 5, 0)
	require.NoError(t, hmm.RecomputeB())
	require.NoError(t, hmm.Estep())
	q, err := hmm.Q()
	require.NoError(t, err)

	// The single alt block emits column (N+1)*1+0
	g0 := 0.3 * 0.3 / (0.3*0.3 + 0.7*0.3)
	g1 := 1 - g0
	expected := g0*math.Log(0.3) + g1*math.Log(0.7) + g0*math.Log(0.3) + g1*math.Log(0.3)
	assert.InDelta(t, expected, q.Value(), 1e-12)
	assert.Equal(t, 0.0, floats.Sum(hmm.Xisum)+floats.Sum(hmm.XisumAlt))
}
