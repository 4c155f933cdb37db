// Package metricscalculator holds the pure numeric helpers used by the
// engines: descriptive statistics, Welch's t-test and text similarity.
package metricscalculator

import (
	"math"
)

// Mean returns the arithmetic mean, or 0 for an empty sample.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SampleVariance uses the n-1 denominator and is 0 for n < 2.
func SampleVariance(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(n-1)
}

// SampleStdDev is the square root of SampleVariance.
func SampleStdDev(xs []float64) float64 {
	return math.Sqrt(SampleVariance(xs))
}

// MinMax returns the smallest and largest values; both are 0 for an empty sample.
func MinMax(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// TTestResult is the outcome of a two-sample Welch t-test.
type TTestResult struct {
	T      float64
	DF     float64
	PValue float64
}

// WelchTTest runs a two-sided Welch t-test (unequal variances). ok is false
// when either sample has fewer than two observations.
//
// When both samples have zero variance the statistic is degenerate: equal
// means give p = 1, different means give p = 0.
func WelchTTest(a, b []float64) (res TTestResult, ok bool) {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return TTestResult{}, false
	}
	ma, mb := Mean(a), Mean(b)
	va, vb := SampleVariance(a)/na, SampleVariance(b)/nb
	se2 := va + vb
	if se2 == 0 {
		res.DF = na + nb - 2
		if ma == mb {
			res.PValue = 1
			return res, true
		}
		res.T = math.Copysign(math.Inf(1), ma-mb)
		res.PValue = 0
		return res, true
	}

	res.T = (ma - mb) / math.Sqrt(se2)
	// Welch-Satterthwaite degrees of freedom.
	den := va*va/(na-1) + vb*vb/(nb-1)
	res.DF = se2 * se2 / den
	res.PValue = StudentTTwoSidedP(res.T, res.DF)
	return res, true
}

// StudentTTwoSidedP is P(|T| >= |t|) for Student's t with df degrees of freedom.
func StudentTTwoSidedP(t, df float64) float64 {
	if math.IsInf(t, 0) {
		return 0
	}
	x := df / (df + t*t)
	return Clamp(RegularizedIncompleteBeta(df/2, 0.5, x), 0, 1)
}

// RegularizedIncompleteBeta computes I_x(a, b) with the Lentz continued
// fraction, switching to the symmetric form where it converges faster.
func RegularizedIncompleteBeta(a, b, x float64) float64 {
	switch {
	case x <= 0:
		return 0
	case x >= 1:
		return 1
	}
	lga, _ := math.Lgamma(a)
	lgb, _ := math.Lgamma(b)
	lgab, _ := math.Lgamma(a + b)
	front := math.Exp(lgab - lga - lgb + a*math.Log(x) + b*math.Log(1-x))
	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

func betaContinuedFraction(a, b, x float64) float64 {
	const (
		maxIter = 300
		eps     = 1e-14
		tiny    = 1e-300
	)
	qab, qap, qam := a+b, a+1, a-1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm
		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}
