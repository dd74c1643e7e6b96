// Package util
//
// This file implements summary statistics and a size histogram for efficient tracking of data
// size distributions. The histogram uses exponential buckets to cover bytes to gigabytes with a
// fixed, small memory footprint and only atomic counters, so it can be fed from write paths.
package util

import (
	"math"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, standard deviation, minimum and maximum of values
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(sumSquaredDiffs / float64(len(values))), // population formula
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats computes quality metrics for how evenly values (e.g. index chain
// lengths) are spread. A quality of 1 means perfectly even.
func NewDistributionStats(sizes []float64) DistributionStats {
	stats := NewStats(sizes)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	// lower CV and higher min/max ratio indicate better distribution
	quality := (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: quality,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets (16B .. 4GB)
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096,
	16384, 65536, 262144, 1048576,
	4194304, 16777216, 67108864,
	268435456, 1073741824, 4294967296,
}

// SizeHistogram tracks the distribution of data sizes.
//
// Thread-safety: All methods are safe for concurrent use. Readers observe counters that are
// individually consistent, estimates computed during concurrent writes are approximate.
type SizeHistogram struct {
	buckets [16]atomic.Int64 // 15 boundaries + 1 for larger values
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty size histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// AddSample adds a size sample to the histogram
func (h *SizeHistogram) AddSample(size int) {
	idx := len(sizeBoundaries)
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			idx = i
			break
		}
	}

	h.buckets[idx].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// GetCount returns the total number of samples
func (h *SizeHistogram) GetCount() int64 {
	return h.count.Load()
}

// AverageSize returns the average size across all samples
func (h *SizeHistogram) AverageSize() int {
	count := h.count.Load()
	if count == 0 {
		return 0
	}
	return int(h.sum.Load() / count)
}

// MedianEstimate estimates the median size based on the histogram
func (h *SizeHistogram) MedianEstimate() int {
	return h.GetPercentileEstimate(50)
}

// GetPercentileEstimate returns an estimate for the given percentile (0-100)
func (h *SizeHistogram) GetPercentileEstimate(percentile int) int {
	count := h.count.Load()
	if count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(count) * float64(percentile) / 100.0))
	var cumulative int64
	for i := range h.buckets {
		cumulative += h.buckets[i].Load()
		if cumulative >= target {
			return bucketEstimate(i)
		}
	}

	return h.AverageSize()
}

// bucketEstimate returns a representative size for bucket i
func bucketEstimate(i int) int {
	switch {
	case i == 0:
		return sizeBoundaries[0] / 2
	case i < len(sizeBoundaries):
		return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
	default:
		return sizeBoundaries[len(sizeBoundaries)-1] * 2
	}
}

// Reset clears all histogram data
func (h *SizeHistogram) Reset() {
	h.count.Store(0)
	h.sum.Store(0)
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
}

// SizeDistribution returns the bucket boundaries and the percentage of samples in each bucket
func (h *SizeHistogram) SizeDistribution() ([]int, []float64) {
	percentages := make([]float64, len(h.buckets))
	count := h.count.Load()
	if count == 0 {
		return sizeBoundaries, percentages
	}

	for i := range h.buckets {
		percentages[i] = float64(h.buckets[i].Load()) * 100.0 / float64(count)
	}
	return sizeBoundaries, percentages
}
