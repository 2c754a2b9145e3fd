package linescan

import (
	"math"
	"testing"
)

func uniformTimes(t0, dt float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = t0 + float64(i)*dt
	}
	return out
}

func TestCheckUniform_Accepts(t *testing.T) {
	times := uniformTimes(100.0, 0.5, 20)
	// Wobble every gap by less than the tolerance.
	for i := range times {
		times[i] += 1e-9 * float64(i%2)
	}
	t0, dt, err := CheckUniform(times, 1e-6)
	if err != nil {
		t.Fatalf("expected uniform grid to pass, got %v", err)
	}
	if t0 != times[0] {
		t.Errorf("t0 = %g, want %g", t0, times[0])
	}
	if math.Abs(dt-0.5) > 1e-6 {
		t.Errorf("dt = %g, want 0.5", dt)
	}
}

func TestCheckUniform_RejectsSingleIrregularGap(t *testing.T) {
	times := uniformTimes(0, 1.0, 20)
	times[10] += 0.01 // one bad gap
	if _, _, err := CheckUniform(times, 1e-6); err == nil {
		t.Fatal("expected irregular gap to be rejected")
	}
}

func TestCheckUniform_RejectsDecreasing(t *testing.T) {
	if _, _, err := CheckUniform([]float64{0, -1, -2}, 1e-6); err == nil {
		t.Fatal("expected decreasing times to be rejected")
	}
}

func TestCheckUniform_TooFewSamples(t *testing.T) {
	if _, _, err := CheckUniform([]float64{5}, 1e-6); err == nil {
		t.Fatal("expected single sample to be rejected")
	}
}

func TestSampleSequence_IndexAndTime(t *testing.T) {
	s := SampleSequence{T0: 10, Dt: 2, Stride: 3, Data: make([]float64, 30)}
	if got := s.Count(); got != 10 {
		t.Fatalf("Count = %d, want 10", got)
	}
	if got := s.Index(10); got != 0 {
		t.Errorf("Index(10) = %d, want 0", got)
	}
	if got := s.Index(13.9); got != 1 {
		t.Errorf("Index(13.9) = %d, want 1", got)
	}
	if got := s.Index(9.9); got != -1 {
		t.Errorf("Index(9.9) = %d, want -1 (unclamped)", got)
	}
	if got := s.Time(3); got != 16 {
		t.Errorf("Time(3) = %g, want 16", got)
	}
}

func TestSampleSequence_CloneIsIndependent(t *testing.T) {
	s := SampleSequence{T0: 0, Dt: 1, Stride: 2, Data: []float64{1, 2, 3, 4}}
	c := s.Clone()
	c.Data[0] = 99
	if s.Data[0] != 1 {
		t.Fatal("Clone must not share backing data")
	}
}

func TestInterpolate_LinearIsExact(t *testing.T) {
	// Lagrange interpolation of linearly varying samples reproduces the
	// line exactly, for interior times and for truncated end supports.
	s := SampleSequence{T0: 0, Dt: 1, Stride: 1}
	for k := 0; k < 20; k++ {
		s.Data = append(s.Data, 3.0+2.0*float64(k))
	}
	out := make([]float64, 1)
	for _, tt := range []float64{0.25, 5.5, 9.3, 18.7} {
		interpolate(&s, tt, 8, out)
		want := 3.0 + 2.0*tt
		if math.Abs(out[0]-want) > 1e-9 {
			t.Errorf("interpolate(%g) = %g, want %g", tt, out[0], want)
		}
	}
}
