package blocks

import (
	"math"
	"math/big"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simulateBlocks assigns loci to blocks one at a time.
func simulateBlocks(totalLoci, blockSize, altBlockSize, maskFreq, maskOffset int) int {

	var nb, inblock int
	for i := 0; i < totalLoci; i++ {
		inblock++
		target := blockSize
		if IsAlt(nb, maskFreq, maskOffset) {
			target = altBlockSize
		}
		if inblock == target {
			nb++
			inblock = 0
		}
	}
	if inblock > 0 {
		nb++
	}

	return nb
}

func TestNumBlocks(t *testing.T) {

	for _, bs := range []int{1, 2, 3, 7, 100} {
		for _, freq := range []int{1, 2, 3, 5} {
			for off := 0; off < freq; off++ {
				for tl := 0; tl < 400; tl += 7 {
					expected := simulateBlocks(tl, bs, 1, freq, off)
					observed := NumBlocks(tl, bs, 1, freq, off)
					if observed != expected {
						t.Logf("bs=%d freq=%d off=%d total=%d\n", bs, freq, off, tl)
						t.Logf("observed=%d expected=%d\n", observed, expected)
						t.Fail()
					}
				}
			}
		}
	}

	assert.Equal(t, 0, NumBlocks(0, 10, 1, 4, 0))
}

func testMask(n int) [][]int {
	mask := make([][]int, 3)
	for i := range mask {
		mask[i] = make([]int, n+1)
		for j := range mask[i] {
			mask[i][j] = i*(n+1) + j
		}
	}
	return mask
}

func testConfig(n, blockSize, maskFreq, maskOffset, total int) Config {
	return Config{
		N:            n,
		BlockSize:    blockSize,
		AltBlockSize: 1,
		MaskFreq:     maskFreq,
		MaskOffset:   maskOffset,
		TotalLoci:    total,
		EmissionMask: testMask(n),
		TwoMask:      MakeTwoMask(3, n+1),
	}
}

func randomObs(rng *rand.Rand, nrow, n int) ([]Obs, int) {

	obs := make([]Obs, nrow)
	var total int
	for i := range obs {
		obs[i] = Obs{
			R: rng.Intn(12),
			A: rng.Intn(4) - 1,
			B: rng.Intn(n+2) - 1,
		}
		total += obs[i].R
	}

	return obs, total
}

func TestCompressCoversLoci(t *testing.T) {

	rng := rand.New(rand.NewSource(3))

	for _, bs := range []int{1, 3, 10} {
		for _, freq := range []int{1, 2, 4} {
			for off := 0; off < freq; off++ {
				obs, total := randomObs(rng, 50, 3)
				comp, err := Compress(obs, testConfig(3, bs, freq, off, total))
				require.NoError(t, err)

				require.Equal(t, NumBlocks(total, bs, 1, freq, off), comp.NumBlocks())

				var sum int
				for ell, m := range comp.BlockLen {
					sum += m
					require.Equal(t, m, comp.Keys[comp.BlockSig[ell]].Loci())
					if ell < comp.NumBlocks()-1 {
						if IsAlt(ell, freq, off) {
							require.Equal(t, 1, m)
						} else {
							require.Equal(t, bs, m)
						}
					}
					require.Equal(t, IsAlt(ell, freq, off), comp.Keys[comp.BlockSig[ell]].Alt)
				}
				assert.Equal(t, total, sum)

				// Every block appears in exactly one group
				seen := make([]int, comp.NumBlocks())
				for s, grp := range comp.Groups {
					for _, ell := range grp {
						assert.Equal(t, s, comp.BlockSig[ell])
						seen[ell]++
					}
				}
				for _, v := range seen {
					assert.Equal(t, 1, v)
				}
			}
		}
	}
}

func TestCompressDedup(t *testing.T) {

	// Blocks 0 and 1 have the same content in a different order
	obs := []Obs{
		{R: 2, A: 0, B: 0},
		{R: 1, A: 1, B: 1},
		{R: 3, A: 0, B: 0},
		{R: 1, A: 1, B: 1},
		{R: 1, A: 0, B: 0},
	}
	comp, err := Compress(obs, testConfig(2, 4, 1000, 1, 8))
	require.NoError(t, err)

	require.Equal(t, 2, comp.NumBlocks())
	assert.Equal(t, 1, comp.NumSig())
	assert.Equal(t, []int{0, 0}, comp.BlockSig)
	assert.Equal(t, []Power{{0, 0, 3}, {1, 1, 1}}, comp.Keys[0].Powers)
}

func TestCompressMalformed(t *testing.T) {

	obs := []Obs{{R: 5, A: 0, B: 0}}
	_, err := Compress(obs, testConfig(2, 2, 3, 0, 4))
	assert.ErrorIs(t, err, ErrMalformedInput)

	obs = []Obs{{R: 5, A: 3, B: 0}}
	_, err = Compress(obs, testConfig(2, 2, 3, 0, 5))
	assert.ErrorIs(t, err, ErrMalformedInput)

	obs = []Obs{{R: -1, A: 0, B: 0}}
	_, err = Compress(obs, testConfig(2, 2, 3, 0, 5))
	assert.ErrorIs(t, err, ErrMalformedInput)

	cfg := testConfig(2, 2, 3, 0, 5)
	cfg.TwoMask = MakeTwoMask(3, 2)
	_, err = Compress([]Obs{{R: 5, A: 0, B: 0}}, cfg)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

// bruteMultiplicity counts the distinct orderings of the locus labels
// implied by key.
func bruteMultiplicity(key Key, mask [][]int) int {

	var labels []string
	for _, p := range key.Powers {
		lab := string(rune('0'+missingness(p.A, p.B))) + ":" + setKey(Reachable(p.A, p.B, mask))
		for k := 0; k < p.Count; k++ {
			labels = append(labels, lab)
		}
	}

	seen := make(map[string]bool)
	var permute func(k int)
	permute = func(k int) {
		if k == len(labels) {
			seen[strings.Join(labels, "|")] = true
			return
		}
		for i := k; i < len(labels); i++ {
			labels[k], labels[i] = labels[i], labels[k]
			permute(k + 1)
			labels[k], labels[i] = labels[i], labels[k]
		}
	}
	permute(0)

	return len(seen)
}

func TestMultiplicity(t *testing.T) {

	two := MakeTwoMask(3, 3)

	// Three orderings of {x, x, y}
	key := Key{Powers: []Power{{0, 0, 2}, {1, 1, 1}}}
	assert.Equal(t, int64(3), Multiplicity(key, two).Int64())
	assert.Equal(t, 3, bruteMultiplicity(key, two))

	// (0,0) and (2,1) collapse to the same class under the two-mask
	key = Key{Powers: []Power{{0, 0, 1}, {2, 1, 1}}}
	assert.Equal(t, int64(1), Multiplicity(key, two).Int64())

	// Fully missing loci are interchangeable with each other only
	key = Key{Powers: []Power{{-1, -1, 2}, {0, 0, 1}}}
	assert.Equal(t, int64(3), Multiplicity(key, two).Int64())

	rng := rand.New(rand.NewSource(7))
	for _, mask := range [][][]int{two, testMask(2), {{0, 0, 1}, {1, 2, 2}, {0, 1, 2}}} {
		for iter := 0; iter < 200; iter++ {
			powers := make(map[[2]int]int)
			for k := 0; k < 1+rng.Intn(6); k++ {
				powers[[2]int{rng.Intn(4) - 1, rng.Intn(4) - 1}]++
			}
			key := makeKey(rng.Intn(2) == 0, powers)
			expected := bruteMultiplicity(key, mask)
			observed := Multiplicity(key, mask)
			if observed.Cmp(big.NewInt(int64(expected))) != 0 {
				t.Logf("key=%v observed=%v expected=%d\n", key, observed, expected)
				t.Fail()
			}
		}
	}
}

func TestMultinomialExact(t *testing.T) {

	assert.Equal(t, int64(1), Multinomial(nil).Int64())
	assert.Equal(t, int64(60), Multinomial([]int{3, 2, 1}).Int64())

	// 200!/(100! 100!) is far beyond the range of uint64
	m := Multinomial([]int{100, 100})
	assert.False(t, m.IsUint64())
	expected := new(big.Int).Binomial(200, 100)
	assert.Equal(t, 0, m.Cmp(expected))

	lg200, _ := math.Lgamma(201)
	lg100, _ := math.Lgamma(101)
	assert.InDelta(t, lg200-2*lg100, LogBig(m), 1e-9)

	// Values beyond the float64 range
	big1 := Multinomial([]int{2000, 2000})
	lg4000, _ := math.Lgamma(4001)
	lg2000, _ := math.Lgamma(2001)
	assert.InDelta(t, 1, LogBig(big1)/(lg4000-2*lg2000), 1e-10)
}

func TestReachable(t *testing.T) {

	mask := [][]int{{0, 0, 1}, {1, 2, 2}, {0, 1, 2}}
	assert.Equal(t, []int{2}, Reachable(1, 1, mask))
	assert.Equal(t, []int{1, 2}, Reachable(1, -1, mask))
	assert.Equal(t, []int{0, 1}, Reachable(-1, 0, mask))
	assert.Nil(t, Reachable(-1, -1, mask))
}
