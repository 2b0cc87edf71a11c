package flow

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

func TestSampler_MeanOfConstantReadingsIsExact(t *testing.T) {
	s := NewSampler(nil, 10, 3, nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.add(model.FlowSample{ValueLPM: 4.0, T: now})
	}
	est := s.Estimate()
	assert.InDelta(t, 4.0, est.Mean, 1e-9)
	assert.InDelta(t, 0.0, est.StdDev, 1e-9)
	assert.Equal(t, 5, est.N)
}

func TestSampler_EvictRemovesAgedOutSamples(t *testing.T) {
	s := NewSampler(nil, 10, 1, nil)
	old := time.Now().Add(-5 * time.Second)
	recent := time.Now()

	s.add(model.FlowSample{ValueLPM: 100, T: old})
	s.add(model.FlowSample{ValueLPM: 4, T: recent})

	s.evict(time.Now())

	est := s.Estimate()
	assert.Equal(t, 1, est.N)
	assert.InDelta(t, 4.0, est.Mean, 1e-9)
}

func TestSampler_StdDevMatchesPopulationFormula(t *testing.T) {
	s := NewSampler(nil, 10, 10, nil)
	now := time.Now()
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for _, v := range values {
		s.add(model.FlowSample{ValueLPM: v, T: now})
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	wantStdDev := math.Sqrt(ss / float64(len(values)))

	est := s.Estimate()
	assert.InDelta(t, mean, est.Mean, 1e-9)
	assert.InDelta(t, wantStdDev, est.StdDev, 1e-9)
}

func TestSampler_EmptyWindowReturnsZeroEstimate(t *testing.T) {
	s := NewSampler(nil, 10, 3, nil)
	assert.Equal(t, model.FlowEstimate{}, s.Estimate())
}

type fakeReader struct {
	values []float64
	i      int
}

func (f *fakeReader) ReadLPM() (float64, error) {
	if f.i >= len(f.values) {
		f.i = len(f.values) - 1
	}
	v := f.values[f.i]
	f.i++
	return v, nil
}

func TestSampler_RunFeedsOnTick(t *testing.T) {
	reader := &fakeReader{values: []float64{1, 2, 3}}
	got := make(chan model.FlowEstimate, 8)
	s := NewSampler(reader, 1000, 1, func(e model.FlowEstimate) { got <- e })

	s.tick()
	s.tick()

	assert.Len(t, got, 2)
}
