package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kgingest/internal/commits"
	"kgingest/internal/derive"
)

var (
	deriveSince  string
	deriveDryRun bool
)

// deriveCmd runs C8's relationship derivation on demand, without a full
// pipeline pass (spec.md §6's "POST derive_relationships"). Standalone,
// only the commit-message evidence strategy is available: doc-text
// evidence needs chunk text held in memory during a chunking pass, which
// is not persisted to the store (only fulltext-indexed).
var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive semantic relationship edges from commit history",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		started := time.Now()
		since := deriveSince
		watermark, werr := derive.LoadWatermark(store)
		if werr != nil {
			return werr
		}

		raws, err := commits.ListCommits(context.Background(), repoRoot, since)
		if err != nil {
			return fmt.Errorf("list commits: %w", err)
		}

		var evidence []derive.CommitEvidence
		var newest time.Time
		for _, c := range raws {
			var files []string
			for _, ch := range c.Changes {
				files = append(files, ch.Path)
			}
			evidence = append(evidence, derive.CommitEvidence{Hash: c.Hash, Message: c.Message, Timestamp: c.Timestamp, Files: files})
			if c.Timestamp.After(newest) {
				newest = c.Timestamp
			}
		}
		evidence = derive.FilterSinceWatermark(evidence, watermark)

		acc := derive.NewAccumulator()
		derive.DeriveFromCommits(acc, evidence)
		edges := acc.Combine(derive.MinConfidence)

		counts := map[string]int{}
		var confSum float64
		var confMin, confMax float64
		for i, e := range edges {
			counts[string(e.Kind)]++
			confSum += e.Confidence
			if i == 0 || e.Confidence < confMin {
				confMin = e.Confidence
			}
			if i == 0 || e.Confidence > confMax {
				confMax = e.Confidence
			}
		}

		fmt.Printf("derived %d candidate edge(s) from %d commit(s) (dry_run=%v)\n", len(edges), len(evidence), deriveDryRun)
		for kind, n := range counts {
			fmt.Printf("  %-14s %d\n", kind, n)
		}
		if len(edges) > 0 {
			fmt.Printf("confidence: min=%.2f max=%.2f mean=%.2f\n", confMin, confMax, confSum/float64(len(edges)))
		}

		if !deriveDryRun {
			if err := derive.WriteDerivedEdges(store, edges); err != nil {
				return fmt.Errorf("write derived edges: %w", err)
			}
			if err := derive.AdvanceWatermark(store, newest); err != nil {
				return fmt.Errorf("advance watermark: %w", err)
			}
		}

		fmt.Printf("duration_ms: %d\n", time.Since(started).Milliseconds())
		return nil
	},
}

func init() {
	deriveCmd.Flags().StringVar(&deriveSince, "since", "", "Only consider commits after this hash")
	deriveCmd.Flags().BoolVar(&deriveDryRun, "dry-run", false, "Report what would be derived without writing edges")
}
