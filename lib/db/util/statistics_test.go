package util

import (
	"math"
	"sync"
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	if s.Mean != 5 {
		t.Errorf("Expected mean 5, got %f", s.Mean)
	}
	if s.StdDeviation != 2 {
		t.Errorf("Expected std deviation 2, got %f", s.StdDeviation)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("Expected min/max 2/9, got %f/%f", s.Min, s.Max)
	}

	if (NewStats(nil) != Stats{}) {
		t.Errorf("Stats of no values should be zero")
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if math.Abs(even.DistributionQuality-1) > 1e-9 {
		t.Errorf("Even distribution should have quality 1, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 40})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("Skewed distribution should have lower quality (%f >= %f)", skewed.DistributionQuality, even.DistributionQuality)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()

	if h.MedianEstimate() != 0 || h.AverageSize() != 0 {
		t.Errorf("Empty histogram should report zero estimates")
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				h.AddSample(100) // bucket (64, 256]
			}
		}()
	}
	wg.Wait()

	if h.GetCount() != 1000 {
		t.Errorf("Expected 1000 samples, got %d", h.GetCount())
	}
	if h.AverageSize() != 100 {
		t.Errorf("Expected average 100, got %d", h.AverageSize())
	}
	if m := h.MedianEstimate(); m != (64+256)/2 {
		t.Errorf("Expected median estimate %d, got %d", (64+256)/2, m)
	}

	h.AddSample(1 << 40)
	if p := h.GetPercentileEstimate(100); p != 4294967296*2 {
		t.Errorf("Expected the overflow bucket estimate for p100, got %d", p)
	}

	_, pct := h.SizeDistribution()
	var total float64
	for _, p := range pct {
		total += p
	}
	if math.Abs(total-100) > 1e-6 {
		t.Errorf("Distribution should sum to 100%%, got %f", total)
	}

	h.Reset()
	if h.GetCount() != 0 {
		t.Errorf("Reset should clear all samples")
	}
}
