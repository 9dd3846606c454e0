package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"kgingest/internal/audit"
)

// auditCmd runs the auditor against the existing graph, without re-running
// the ingestion pipeline (spec.md §6's on-demand "POST audit()").
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run integrity checks against the existing knowledge graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		report := audit.Run(store)
		if err := saveReport(report); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to save audit report: %v\n", err)
		}
		printReport(report)
		return nil
	},
}

func printReport(r *audit.Report) {
	fmt.Printf("audit generated %s\n", r.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Println("node counts:")
	for _, k := range sortedKeys(r.NodeCounts) {
		fmt.Printf("  %-14s %d\n", k, r.NodeCounts[k])
	}
	fmt.Println("edge counts:")
	for _, k := range sortedKeys(r.EdgeCounts) {
		fmt.Printf("  %-18s %d\n", k, r.EdgeCounts[k])
	}
	if len(r.OrphanNodes) > 0 {
		fmt.Println("orphan nodes:")
		for _, k := range sortedOrphanKeys(r.OrphanNodes) {
			fmt.Printf("  %-14s %d\n", k, len(r.OrphanNodes[k]))
		}
	}
	fmt.Printf("chunks_without_links: %d\n", len(r.ChunksWithoutLinks))
	fmt.Printf("requirements_without_part_of: %d\n", len(r.RequirementsWithoutPartOf))
	fmt.Printf("libraries_without_links: %d\n", len(r.LibrariesWithoutLinks))
	fmt.Printf("decode fallback: %d file(s), %d replacement char(s)\n", r.Decode.FallbackCount, r.Decode.ReplacementChars)
	for _, cov := range r.LibraryCoverage {
		fmt.Printf("  library source %-10s %d\n", cov.Source, cov.Count)
	}
	fmt.Printf("quality_score: %.1f", r.QualityScore)
	if r.Excellent {
		fmt.Print(" (excellent)")
	}
	fmt.Println()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedOrphanKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
