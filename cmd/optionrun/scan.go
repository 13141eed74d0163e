package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tradeforge/optionrun/internal/config"
	"github.com/tradeforge/optionrun/internal/market"
	"github.com/tradeforge/optionrun/internal/scorer"
	"github.com/tradeforge/optionrun/internal/signals"
)

// scanInput is the offline scan file format: one snapshot plus the
// matching chain, as captured from the feed.
type scanInput struct {
	Snapshot market.Snapshot `json:"snapshot"`
	Chain    market.Chain    `json:"chain"`
}

func scanCmd() *cobra.Command {
	var file string
	var profile string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Score a captured snapshot and chain offline",
		Long:  "Runs signal confirmation and option scoring over a captured market state file and prints the ranked candidates as JSON.",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setLogLevel(cfg.Log.Level, cfg.Log.Pretty)
			return runScan(cfg, file, scorer.Profile(profile))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Captured market state JSON (required)")
	cmd.Flags().StringVar(&profile, "profile", string(scorer.ProfileBalanced), "Scoring profile (liquidity|balanced|value)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runScan(cfg *config.Config, file string, profile scorer.Profile) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("scan: read %s: %w", file, err)
	}
	var in scanInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("scan: parse %s: %w", file, err)
	}

	confirm := signals.NewEngine(&cfg.Signals).Confirm(&in.Snapshot, &in.Chain)

	scored, err := scorer.NewScorer(&cfg.Scorer).Score(&in.Chain, in.Snapshot.LastPrice, profile, nil)
	if err != nil {
		return err
	}

	out := struct {
		Confirmation *signals.Result `json:"confirmation"`
		Scoring      *scorer.Result  `json:"scoring"`
	}{confirm, scored}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
