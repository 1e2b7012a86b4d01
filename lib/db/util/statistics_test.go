package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Mean != 5 || s.Min != 2 || s.Max != 9 {
		t.Errorf("Unexpected stats %+v", s)
	}
	if math.Abs(s.StdDeviation-2) > 1e-9 {
		t.Errorf("Expected standard deviation 2, got %f", s.StdDeviation)
	}
	if empty := NewStats(nil); empty != (Stats{}) {
		t.Errorf("Stats of no values should be zero, got %+v", empty)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.AverageSize() != 0 || h.MedianEstimate() != 0 {
		t.Errorf("Empty histogram should report zero")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(10) // first bucket
	}
	for i := 0; i < 10; i++ {
		h.AddSample(1000) // 256 < x <= 1024
	}

	if h.GetCount() != 100 || h.GetSum() != 90*10+10*1000 {
		t.Errorf("Unexpected count %d / sum %d", h.GetCount(), h.GetSum())
	}
	if got := h.MedianEstimate(); got != 8 {
		t.Errorf("Median estimate %d, expected 8", got)
	}
	if got := h.GetPercentileEstimate(99); got != (256+1024)/2 {
		t.Errorf("P99 estimate %d, expected %d", got, (256+1024)/2)
	}

	_, dist := h.SizeDistribution()
	if dist[0] != 90 || dist[3] != 10 {
		t.Errorf("Unexpected distribution %v", dist)
	}

	h.AddSample(1 << 40)
	_, dist = h.SizeDistribution()
	if dist[len(dist)-1] == 0 {
		t.Errorf("Huge sample should land in the overflow bucket")
	}
}
