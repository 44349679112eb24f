package blocks

import (
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Missingness classes of a locus
const (
	bothObserved = iota
	derivedMissing
	alleleMissing
	bothMissing
)

// Multinomial returns (sum ks)! / prod(ks[i]!).
func Multinomial(ks []int) *big.Int {

	var sum int64
	den := big.NewInt(1)
	tmp := new(big.Int)
	for _, k := range ks {
		sum += int64(k)
		den.Mul(den, tmp.MulRange(1, int64(k)))
	}

	num := new(big.Int).MulRange(1, sum)
	return num.Quo(num, den)
}

// LogBig returns the natural logarithm of x without converting x to a
// float64, so values beyond the float64 range are handled.
func LogBig(x *big.Int) float64 {

	if x.Sign() <= 0 {
		return math.Inf(-1)
	}

	mant := new(big.Float)
	exp := new(big.Float).SetInt(x).MantExp(mant)
	m, _ := mant.Float64()

	return math.Log(m) + float64(exp)*math.Ln2
}

// Reachable returns the sorted distinct emission classes that a locus with
// allele class a and derived count b may belong to under mask.  A missing
// coordinate ranges over all of its values.  The result is empty if both
// coordinates are missing.
func Reachable(a, b int, mask [][]int) []int {

	var s []int
	switch {
	case a >= 0 && b >= 0:
		return []int{mask[a][b]}
	case a >= 0:
		s = append(s, mask[a]...)
	case b >= 0:
		for i := range mask {
			s = append(s, mask[i][b])
		}
	default:
		return nil
	}

	sort.Ints(s)
	u := s[:1]
	for _, v := range s[1:] {
		if v != u[len(u)-1] {
			u = append(u, v)
		}
	}

	return u
}

func missingness(a, b int) int {
	switch {
	case a >= 0 && b >= 0:
		return bothObserved
	case a >= 0:
		return derivedMissing
	case b >= 0:
		return alleleMissing
	default:
		return bothMissing
	}
}

func setKey(s []int) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// Multiplicity returns the number of distinct locus orderings that produce
// the signature key.  Loci are identified by their missingness class and
// by the set of emission classes they may belong to under mask.
func Multiplicity(key Key, mask [][]int) *big.Int {

	var classes [4]map[string]int
	for j := range classes {
		classes[j] = make(map[string]int)
	}
	ctot := make([]int, 4)

	for _, p := range key.Powers {
		ai := missingness(p.A, p.B)
		s := setKey(Reachable(p.A, p.B, mask))
		classes[ai][s] += p.Count
		ctot[ai] += p.Count
	}

	coef := Multinomial(ctot)
	for j := range classes {
		values := make([]int, 0, len(classes[j]))
		for _, v := range classes[j] {
			values = append(values, v)
		}
		coef.Mul(coef, Multinomial(values))
	}

	return coef
}
