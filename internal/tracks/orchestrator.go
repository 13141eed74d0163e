// Package tracks arbitrates between the two concurrent trading tracks.
// The orchestrator decides which track may attempt entries from the
// anomaly state; it never overrides risk control, actual admission always
// goes through the risk entry gate.
package tracks

import (
	"fmt"

	"github.com/tradeforge/optionrun/internal/anomaly"
	"github.com/tradeforge/optionrun/internal/risk"
)

// Config fixes the capital split between tracks.
type Config struct {
	RegularAllocation float64 `yaml:"regular_allocation" default:"0.8"`
	AnomalyAllocation float64 `yaml:"anomaly_allocation" default:"0.2"`
}

// DefaultConfig returns the 80/20 regular/anomaly split.
func DefaultConfig() *Config {
	return &Config{
		RegularAllocation: 0.8,
		AnomalyAllocation: 0.2,
	}
}

// Allocations returns the per-track capital fractions for ledger setup.
func (c *Config) Allocations() map[risk.Track]float64 {
	return map[risk.Track]float64{
		risk.TrackRegular: c.RegularAllocation,
		risk.TrackAnomaly: c.AnomalyAllocation,
	}
}

// Validate rejects splits that over-allocate capital.
func (c *Config) Validate() error {
	total := c.RegularAllocation + c.AnomalyAllocation
	if total > 1.0+1e-9 {
		return fmt.Errorf("tracks: allocations sum to %.3f, must not exceed 1.0", total)
	}
	return nil
}

// Decision says which tracks may attempt new entries this cycle. Existing
// positions are always managed regardless of entry suspension.
type Decision struct {
	RegularEntriesOpen bool     `json:"regular_entries_open"`
	AnomalyEntriesOpen bool     `json:"anomaly_entries_open"`
	AnomalySizing      float64  `json:"anomaly_sizing"` // fraction of normal size
	StrictFilters      bool     `json:"strict_filters"`
	Reasons            []string `json:"reasons"`
}

// Orchestrator computes track decisions. Stateless; both inputs are
// immutable snapshots.
type Orchestrator struct {
	config *Config
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Orchestrator{config: config}
}

// Decide maps the anomaly state onto track entry permissions. Any active
// tier suspends new regular-track entries; the anomaly track opens only
// when the window phase permits. A ledger halt closes both tracks.
func (o *Orchestrator) Decide(anom anomaly.Snapshot, ledger risk.LedgerSnapshot) Decision {
	d := Decision{}

	if ledger.Halted {
		d.Reasons = append(d.Reasons, "trading halted: "+ledger.HaltReason)
		return d
	}

	if anom.Tier == anomaly.None {
		d.RegularEntriesOpen = true
		d.Reasons = append(d.Reasons, "no anomaly active: regular track open")
		return d
	}

	d.Reasons = append(d.Reasons,
		fmt.Sprintf("anomaly %s active: regular-track entries suspended", anom.TierString))

	if anom.EntriesAllowed {
		d.AnomalyEntriesOpen = true
		d.AnomalySizing = anom.SizingFactor
		d.StrictFilters = anom.StrictFilters
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("anomaly track open in %s phase (sizing %.0f%%)", anom.PhaseString, anom.SizingFactor*100))
	} else {
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("anomaly track closed in %s phase", anom.PhaseString))
	}

	return d
}
