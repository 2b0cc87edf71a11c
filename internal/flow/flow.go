// Package flow samples the mist line's flow sensor and maintains a
// trailing-window mean/stddev estimate using Welford's online algorithm,
// extended with the matching incremental-removal step so the window can
// slide without recomputing from scratch on every tick (spec §4.h).
package flow

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// Reader reads the instantaneous flow rate in liters per minute.
type Reader interface {
	ReadLPM() (float64, error)
}

// Sampler reads Reader at a configurable rate and folds samples into a
// trailing window of duration window.
type Sampler struct {
	reader Reader
	period time.Duration
	window time.Duration

	samples []model.FlowSample
	n       int
	mean    float64
	m2      float64

	onTick func(model.FlowEstimate)
}

// NewSampler constructs a Sampler. sampleHz is the read rate (config
// default 10Hz; a non-positive value reads once per second), windowSec the
// trailing-window length (config default 3s). onTick, if non-nil, is
// invoked with the latest estimate after every sample.
func NewSampler(reader Reader, sampleHz float64, windowSec int, onTick func(model.FlowEstimate)) *Sampler {
	period := time.Second
	if sampleHz > 0 {
		period = time.Duration(float64(time.Second) / sampleHz)
	}
	return &Sampler{
		reader: reader,
		period: period,
		window: time.Duration(windowSec) * time.Second,
		onTick: onTick,
	}
}

// Run drives the sampling loop until ctx is canceled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sampler) tick() {
	v, err := s.reader.ReadLPM()
	if err != nil {
		log.Warn().Err(err).Msg("flow sensor read failed")
		return
	}
	now := time.Now()
	s.add(model.FlowSample{ValueLPM: v, T: now})
	s.evict(now)

	if s.onTick != nil {
		s.onTick(s.Estimate())
	}
}

// add folds a new sample into the running mean/variance and appends it to
// the window.
func (s *Sampler) add(sample model.FlowSample) {
	s.samples = append(s.samples, sample)
	s.n++
	delta := sample.ValueLPM - s.mean
	s.mean += delta / float64(s.n)
	delta2 := sample.ValueLPM - s.mean
	s.m2 += delta * delta2
}

// remove reverses add's incremental update for the oldest sample in the
// window, the standard Welford removal step.
func (s *Sampler) remove(sample model.FlowSample) {
	if s.n <= 1 {
		s.n = 0
		s.mean = 0
		s.m2 = 0
		return
	}
	delta := sample.ValueLPM - s.mean
	s.mean -= delta / float64(s.n-1)
	delta2 := sample.ValueLPM - s.mean
	s.m2 -= delta * delta2
	s.n--
}

// evict drops samples older than the trailing window, keeping the running
// statistics in sync.
func (s *Sampler) evict(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].T.Before(cutoff) {
		s.remove(s.samples[i])
		i++
	}
	s.samples = s.samples[i:]
}

// Estimate returns the current trailing-window mean/stddev/count.
func (s *Sampler) Estimate() model.FlowEstimate {
	if s.n == 0 {
		return model.FlowEstimate{}
	}
	variance := s.m2 / float64(s.n)
	return model.FlowEstimate{
		Mean:   s.mean,
		StdDev: math.Sqrt(variance),
		N:      s.n,
	}
}
