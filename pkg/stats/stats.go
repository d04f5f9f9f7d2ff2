// Package stats holds the NaN-aware reductions used by the detectors.
// Every function skips NaN inputs and returns NaN when nothing remains.
package stats

import (
	"math"
	"sort"
)

// Clean returns the non-NaN values of xs as a new slice.
func Clean(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

func Sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		if !math.IsNaN(x) {
			s += x
		}
	}
	return s
}

func Mean(xs []float64) float64 {
	c := Clean(xs)
	if len(c) == 0 {
		return math.NaN()
	}
	return Sum(c) / float64(len(c))
}

func Median(xs []float64) float64 {
	return Quantile(xs, 0.5)
}

// Quantile uses linear interpolation between closest ranks.
func Quantile(xs []float64, q float64) float64 {
	c := Clean(xs)
	if len(c) == 0 {
		return math.NaN()
	}
	sort.Float64s(c)
	pos := q * float64(len(c)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return c[lo]
	}
	frac := pos - float64(lo)
	return c[lo] + (c[hi]-c[lo])*frac
}

// StdDev is the sample standard deviation (n-1 denominator); NaN below two
// values.
func StdDev(xs []float64) float64 {
	c := Clean(xs)
	if len(c) < 2 {
		return math.NaN()
	}
	m := Sum(c) / float64(len(c))
	ss := 0.0
	for _, x := range c {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(c)-1))
}

func Max(xs []float64) float64 {
	out := math.NaN()
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		if math.IsNaN(out) || x > out {
			out = x
		}
	}
	return out
}

// ShareAbove is the fraction of non-NaN values strictly greater than limit.
func ShareAbove(xs []float64, limit float64) float64 {
	c := Clean(xs)
	if len(c) == 0 {
		return math.NaN()
	}
	n := 0
	for _, x := range c {
		if x > limit {
			n++
		}
	}
	return float64(n) / float64(len(c))
}

// Ratio divides a by b, returning NaN when b is zero or either is NaN.
func Ratio(a, b float64) float64 {
	if b == 0 || math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return a / b
}

// Percent is 100*a/b with the same NaN rules as Ratio.
func Percent(a, b float64) float64 {
	return Ratio(a, b) * 100
}

// Count is one value and its frequency.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// TopCounts counts keys, skipping empty ones, and returns the n most
// frequent in descending order. Ties keep first-seen order. n <= 0 returns
// all.
func TopCounts(keys []string, n int) []Count {
	index := make(map[string]int)
	var counts []Count
	for _, k := range keys {
		if k == "" {
			continue
		}
		i, ok := index[k]
		if !ok {
			i = len(counts)
			index[k] = i
			counts = append(counts, Count{Key: k})
		}
		counts[i].Count++
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
