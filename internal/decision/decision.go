// Package decision turns a sensor window into a cooling mode index, with
// staged thresholds and debouncing against rapid mode flapping (spec §4.b).
package decision

import (
	"github.com/thatsimonsguy/mist-cooler/internal/config"
	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// ModeIdle is the always-available "cooling off" mode every classifier
// falls back to when no rule matches.
const ModeIdle = 0

// Classifier holds the ordered staged rules, the outdoor-weather
// adjustment thresholds, and the mode-indexed duty table they resolve
// into.
type Classifier struct {
	Rules     []config.Rule
	Outdoor   config.OutdoorThresholds
	ModeTable []model.Duty
}

// NewClassifier builds a Classifier from validated config sections.
func NewClassifier(rules []config.Rule, outdoor config.OutdoorThresholds, modeTable []model.Duty) *Classifier {
	return &Classifier{Rules: rules, Outdoor: outdoor, ModeTable: modeTable}
}

// Decide returns the first matching rule's mode index adjusted by the
// outdoor-weather swing, or ModeIdle if no rule matches or the window is
// absent. Grounded on original_source's judge_cooling_mode: the outdoor
// adjustment only applies once the power-staged base mode is non-idle,
// and the combined mode is floored at 0 (cooler_status+outdoor_status,
// never driving a running base mode down into a negative index).
func (c *Classifier) Decide(window model.SensorWindow, windowOK bool) int {
	if !windowOK {
		return ModeIdle
	}

	base := ModeIdle
	for _, r := range c.Rules {
		if r.Matches(window) {
			base = r.ModeIndex
			break
		}
	}
	if base == ModeIdle {
		return ModeIdle
	}

	adjusted := base + outdoorAdjustment(window, c.Outdoor)
	if adjusted < 0 {
		adjusted = 0
	}
	if max := len(c.ModeTable) - 1; max >= 0 && adjusted > max {
		adjusted = max
	}
	return adjusted
}

// outdoorAdjustment ports original_source's get_outdoor_status cascade:
// rain or excess humidity stops cooling outright, hot-and-sunny stages
// strengthen it, and low light/solar/temp stages weaken it. The first
// matching condition wins, same as the original's ordered if-chain. A
// metric with a zero Metric.At (never populated by the sensor query) is
// treated as absent and skipped rather than compared as a literal zero
// reading.
func outdoorAdjustment(w model.SensorWindow, th config.OutdoorThresholds) int {
	if present(w.Rain) && w.Rain.Value > th.RainMaxMMH {
		return -4
	}
	if present(w.Humidity) && w.Humidity.Value > th.HumiMaxPct {
		return -4
	}
	if present(w.Temp) && present(w.Solar) {
		switch {
		case w.Temp.Value > th.TempHighH && w.Solar.Value > th.SolarRadDaytimeWM2:
			return 3
		case w.Temp.Value > th.TempHighL && w.Solar.Value > th.SolarRadDaytimeWM2:
			return 2
		}
	}
	if present(w.Solar) && w.Solar.Value > th.SolarRadHighWM2 {
		return 1
	}
	if present(w.Temp) && present(w.Lux) && w.Temp.Value > th.TempMid && w.Lux.Value < th.LuxThreshold {
		return -1
	}
	if present(w.Lux) && w.Lux.Value < th.LuxThreshold {
		return -2
	}
	if present(w.Solar) && w.Solar.Value < th.SolarRadLowWM2 {
		return -1
	}
	return 0
}

func present(m model.Metric) bool {
	return !m.At.IsZero()
}

// Duty looks up the duty cycle for a mode index.
func (c *Classifier) Duty(modeIndex int) model.Duty {
	if modeIndex < 0 || modeIndex >= len(c.ModeTable) {
		return model.Duty{}
	}
	return c.ModeTable[modeIndex]
}

// Debouncer wraps a Classifier with up/down debounce counters so a single
// noisy tick can't flip the mode. Every classifier-driven change, including
// a drop to ModeIdle, requires UpDebounceTicks/DownDebounceTicks consecutive
// ticks agreeing on the new mode before it takes effect; only running out of
// staleKeepTicks absent windows forces ModeIdle immediately.
type Debouncer struct {
	classifier *Classifier

	staleKeepTicks    int
	upDebounceTicks   int
	downDebounceTicks int

	priorMode    int
	pendingMode  int
	pendingTicks int
	staleTicks   int
}

// NewDebouncer constructs a Debouncer. staleKeepTicks bounds how many
// consecutive absent windows may still reuse priorMode before forcing
// ModeIdle (spec §7 StaleSensor).
func NewDebouncer(classifier *Classifier, upDebounceTicks, downDebounceTicks, staleKeepTicks int) *Debouncer {
	return &Debouncer{
		classifier:        classifier,
		upDebounceTicks:   upDebounceTicks,
		downDebounceTicks: downDebounceTicks,
		staleKeepTicks:    staleKeepTicks,
	}
}

// Decide folds one tick's sensor window into the debounced mode decision.
func (d *Debouncer) Decide(window model.SensorWindow, windowOK bool) int {
	if !windowOK {
		d.staleTicks++
		if d.staleTicks <= d.staleKeepTicks {
			return d.priorMode
		}
		d.resetPending()
		d.priorMode = ModeIdle
		return ModeIdle
	}
	d.staleTicks = 0

	candidate := d.classifier.Decide(window, true)
	if candidate == d.priorMode {
		d.resetPending()
		return d.priorMode
	}

	// A classifier-driven drop to mode 0 is debounced like any other
	// direction change (spec §8 scenario 3's worked example), not emitted
	// immediately — only the stale-window forced-idle path above (§7
	// StaleSensor) bypasses debouncing. See DESIGN.md's Open Question
	// resolution.
	if candidate != d.pendingMode {
		d.pendingMode = candidate
		d.pendingTicks = 1
	} else {
		d.pendingTicks++
	}

	required := d.debounceFor(candidate)
	if d.pendingTicks >= required {
		d.priorMode = candidate
		d.resetPending()
		return d.priorMode
	}
	return d.priorMode
}

func (d *Debouncer) debounceFor(candidate int) int {
	if candidate > d.priorMode {
		if d.upDebounceTicks < 1 {
			return 1
		}
		return d.upDebounceTicks
	}
	if d.downDebounceTicks < 1 {
		return 1
	}
	return d.downDebounceTicks
}

func (d *Debouncer) resetPending() {
	d.pendingMode = 0
	d.pendingTicks = 0
}
