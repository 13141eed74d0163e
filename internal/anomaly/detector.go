// Package anomaly classifies market disturbance into severity tiers from
// three independent signals (30s implied-vol delta, volume multiple vs
// baseline, price-move magnitude) and runs the time-window state machine
// that governs anomaly-track entry eligibility.
package anomaly

import (
	"fmt"
	"sync"
	"time"
)

// Tier is the anomaly severity classification.
type Tier int

const (
	None Tier = iota
	Level1
	Level2
	Level3
)

func (t Tier) String() string {
	switch t {
	case None:
		return "NONE"
	case Level1:
		return "LEVEL1"
	case Level2:
		return "LEVEL2"
	case Level3:
		return "LEVEL3"
	default:
		return "unknown"
	}
}

// Phase is the active time-window phase once a tier is live.
type Phase int

const (
	PhaseIdle Phase = iota // no anomaly active
	PhaseObservation
	PhaseGoldenEntry
	PhaseCautiousEntry
	PhaseNoEntry
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseObservation:
		return "observation"
	case PhaseGoldenEntry:
		return "golden_entry"
	case PhaseCautiousEntry:
		return "cautious_entry"
	case PhaseNoEntry:
		return "no_entry"
	default:
		return "unknown"
	}
}

// Bands are one severity level's thresholds across the three signals.
type Bands struct {
	IVDelta    float64 `yaml:"iv_delta"`    // fractional 30s IV change
	VolumeMult float64 `yaml:"volume_mult"` // multiple of baseline volume
	PriceMove  float64 `yaml:"price_move"`  // fractional price move magnitude
}

// Config holds the severity bands, window durations, and debounce.
type Config struct {
	Level1 Bands `yaml:"level1"`
	Level2 Bands `yaml:"level2"`
	Level3 Bands `yaml:"level3"`

	ObservationWindow time.Duration `yaml:"observation_window" default:"30s"`
	GoldenWindow      time.Duration `yaml:"golden_window" default:"60s"`
	CautiousWindow    time.Duration `yaml:"cautious_window" default:"120s"`
	DebouncePeriod    time.Duration `yaml:"debounce_period" default:"30s"`

	CautiousSizingFactor float64 `yaml:"cautious_sizing_factor" default:"0.5"`
}

// DefaultConfig returns the production severity bands and windows.
func DefaultConfig() *Config {
	return &Config{
		Level1:               Bands{IVDelta: 0.03, VolumeMult: 2, PriceMove: 0.003},
		Level2:               Bands{IVDelta: 0.05, VolumeMult: 3, PriceMove: 0.005},
		Level3:               Bands{IVDelta: 0.08, VolumeMult: 5, PriceMove: 0.008},
		ObservationWindow:    30 * time.Second,
		GoldenWindow:         60 * time.Second,
		CautiousWindow:       120 * time.Second,
		DebouncePeriod:       30 * time.Second,
		CautiousSizingFactor: 0.5,
	}
}

// Signals is one simultaneous reading of the three anomaly inputs.
type Signals struct {
	IVDelta30s     float64   `json:"iv_delta_30s"`
	VolumeMultiple float64   `json:"volume_multiple"`
	PriceMovePct   float64   `json:"price_move_pct"`
	Timestamp      time.Time `json:"timestamp"`
}

// Snapshot is an immutable copy of the anomaly state.
type Snapshot struct {
	Tier           Tier      `json:"tier"`
	TierString     string    `json:"tier_string"`
	TierSince      time.Time `json:"tier_since"`
	Phase          Phase     `json:"phase"`
	PhaseString    string    `json:"phase_string"`
	EntriesAllowed bool      `json:"entries_allowed"`
	SizingFactor   float64   `json:"sizing_factor"`  // 1.0 golden, reduced cautious, 0 otherwise
	StrictFilters  bool      `json:"strict_filters"` // cautious-entry tightening
	Reason         string    `json:"reason,omitempty"`
}

// Detector owns the anomaly state. Observe is the only mutating entry
// point; readers get snapshots.
type Detector struct {
	mu     sync.Mutex
	config *Config

	tier      Tier
	tierSince time.Time
	calmSince time.Time // first moment all signals were below LEVEL1; zero when not calm
	lastObs   Signals
}

// NewDetector creates a detector in the NONE state.
func NewDetector(config *Config) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Detector{config: config}
}

// Observe classifies one simultaneous signal reading and advances the
// state machine. Escalation is stepwise (one tier per observation) except
// when all three signals clear a higher tier's thresholds simultaneously,
// which jumps straight there. De-escalation happens only through the
// debounce reset: all three signals below LEVEL1 for the debounce period.
func (d *Detector) Observe(sig Signals) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastObs = sig
	now := sig.Timestamp

	unanimous, majority, elevated := d.classify(sig)

	if elevated == 0 {
		// All three signals below LEVEL1: start or continue the
		// debounce clock.
		if d.tier != None {
			if d.calmSince.IsZero() {
				d.calmSince = now
			} else if now.Sub(d.calmSince) >= d.config.DebouncePeriod {
				d.tier = None
				d.tierSince = time.Time{}
				d.calmSince = time.Time{}
			}
		}
		return d.snapshotLocked(now)
	}
	d.calmSince = time.Time{}

	if majority == None {
		// A lone elevated signal holds the tier but never escalates it.
		return d.snapshotLocked(now)
	}

	target := majority
	if target > d.tier+1 {
		// Stepwise escalation unless every signal clears the target band.
		if unanimous >= target {
			// documented jump: all three thresholds met simultaneously
		} else {
			target = d.tier + 1
		}
	}
	if target > d.tier {
		d.tier = target
		d.tierSince = now
	}

	return d.snapshotLocked(now)
}

// Status returns the current state evaluated at the given time, advancing
// the window phase without new signal input.
func (d *Detector) Status(now time.Time) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked(now)
}

// classify returns the highest tier cleared by all three signals
// (unanimous), the highest cleared by at least two (majority), and how
// many signals sit above the LEVEL1 bands at all.
func (d *Detector) classify(sig Signals) (unanimous, majority Tier, elevated int) {
	tiers := []struct {
		tier  Tier
		bands Bands
	}{
		{Level3, d.config.Level3},
		{Level2, d.config.Level2},
		{Level1, d.config.Level1},
	}

	for _, t := range tiers {
		hits := 0
		if sig.IVDelta30s >= t.bands.IVDelta {
			hits++
		}
		if sig.VolumeMultiple >= t.bands.VolumeMult {
			hits++
		}
		if abs(sig.PriceMovePct) >= t.bands.PriceMove {
			hits++
		}
		if unanimous == None && hits == 3 {
			unanimous = t.tier
		}
		if majority == None && hits >= 2 {
			majority = t.tier
		}
		if t.tier == Level1 {
			elevated = hits
		}
	}
	return unanimous, majority, elevated
}

func (d *Detector) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{
		Tier:       d.tier,
		TierString: d.tier.String(),
		TierSince:  d.tierSince,
		Phase:      PhaseIdle,
	}
	if d.tier == None {
		snap.PhaseString = snap.Phase.String()
		return snap
	}

	elapsed := now.Sub(d.tierSince)
	switch {
	case elapsed < d.config.ObservationWindow:
		snap.Phase = PhaseObservation
		snap.Reason = fmt.Sprintf("observing %s anomaly (%s in)", d.tier, elapsed.Round(time.Second))
	case elapsed < d.config.GoldenWindow:
		snap.Phase = PhaseGoldenEntry
		snap.EntriesAllowed = true
		snap.SizingFactor = 1.0
	case elapsed < d.config.CautiousWindow:
		snap.Phase = PhaseCautiousEntry
		snap.EntriesAllowed = true
		snap.SizingFactor = d.config.CautiousSizingFactor
		snap.StrictFilters = true
	default:
		snap.Phase = PhaseNoEntry
		snap.Reason = "anomaly window expired: management only"
	}
	snap.PhaseString = snap.Phase.String()
	return snap
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
