package metricscalculator

import (
	"math"
	"testing"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestDescriptiveStats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     []float64
		mean   float64
		stddev float64
	}{
		{name: "empty", in: nil, mean: 0, stddev: 0},
		{name: "single", in: []float64{42}, mean: 42, stddev: 0},
		{name: "three", in: []float64{90, 92, 88}, mean: 90, stddev: 2},
		{name: "constant", in: []float64{5, 5, 5, 5}, mean: 5, stddev: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Mean(tt.in); !approx(got, tt.mean, 1e-9) {
				t.Fatalf("Mean = %v, want %v", got, tt.mean)
			}
			if got := SampleStdDev(tt.in); !approx(got, tt.stddev, 1e-9) {
				t.Fatalf("SampleStdDev = %v, want %v", got, tt.stddev)
			}
		})
	}
}

func TestStudentTTwoSidedP(t *testing.T) {
	t.Parallel()
	tests := []struct {
		t, df, want float64
	}{
		{t: 0, df: 5, want: 1},
		{t: 1, df: 1, want: 0.5},
		{t: 2, df: 10, want: 0.0733880},
		{t: -2, df: 10, want: 0.0733880},
		{t: 2.228, df: 10, want: 0.05},
	}
	for _, tt := range tests {
		if got := StudentTTwoSidedP(tt.t, tt.df); !approx(got, tt.want, 1e-4) {
			t.Errorf("p(t=%v, df=%v) = %v, want %v", tt.t, tt.df, got, tt.want)
		}
	}
}

func TestWelchTTestSeparatedSamples(t *testing.T) {
	t.Parallel()
	res, ok := WelchTTest([]float64{90, 92, 88}, []float64{60, 62, 58})
	if !ok {
		t.Fatal("expected a result for n=3 samples")
	}
	if res.T <= 0 {
		t.Fatalf("t = %v, want positive", res.T)
	}
	if !approx(res.DF, 4, 1e-9) {
		t.Fatalf("df = %v, want 4", res.DF)
	}
	if res.PValue >= 0.001 {
		t.Fatalf("p = %v, want far below 0.05", res.PValue)
	}
}

func TestWelchTTestOverlappingSamples(t *testing.T) {
	t.Parallel()
	res, ok := WelchTTest([]float64{85, 86}, []float64{84, 87})
	if !ok {
		t.Fatal("expected a result for n=2 samples")
	}
	if res.PValue < 0.5 {
		t.Fatalf("p = %v, want well above 0.05", res.PValue)
	}
}

func TestWelchTTestSmallOrDegenerate(t *testing.T) {
	t.Parallel()
	if _, ok := WelchTTest([]float64{90}, []float64{60, 61}); ok {
		t.Fatal("n=1 should not produce a result")
	}
	if _, ok := WelchTTest(nil, []float64{60, 61}); ok {
		t.Fatal("empty sample should not produce a result")
	}
	res, ok := WelchTTest([]float64{70, 70}, []float64{50, 50})
	if !ok || res.PValue != 0 || !math.IsInf(res.T, 1) {
		t.Fatalf("zero-variance different means = %+v, %v", res, ok)
	}
	res, ok = WelchTTest([]float64{70, 70}, []float64{70, 70})
	if !ok || res.PValue != 1 {
		t.Fatalf("zero-variance equal means = %+v, %v", res, ok)
	}
}

func TestMinMaxAndClamp(t *testing.T) {
	t.Parallel()
	lo, hi := MinMax([]float64{3, -1, 7, 2})
	if lo != -1 || hi != 7 {
		t.Fatalf("MinMax = %v, %v", lo, hi)
	}
	if Clamp(120, 0, 100) != 100 || Clamp(-3, 0, 100) != 0 || Clamp(55, 0, 100) != 55 {
		t.Fatal("Clamp out of bounds")
	}
}
