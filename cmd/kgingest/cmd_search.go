package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var searchKind string
var searchLimit int

// searchCmd exposes the graph store's fts5 fulltext_search contract (C1,
// SPEC_FULL.md §4) as a standalone query over the already-ingested graph,
// without re-running the pipeline.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fulltext-search indexed chunk or entity text",
	Long: `search runs an fts5 MATCH query against the graph store's chunk_fts
or entity_fts index, ranked by bm25.

Examples:
  kgingest search "ParseFile"
  kgingest search --kind=entity "scikit-learn"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var hits []string
		switch searchKind {
		case "entity":
			results, serr := store.SearchEntities(args[0], searchLimit)
			if serr != nil {
				return fmt.Errorf("search entities: %w", serr)
			}
			for _, h := range results {
				hits = append(hits, fmt.Sprintf("%s\t%.4f", h.Key, h.Rank))
			}
		case "chunk":
			results, serr := store.SearchChunks(args[0], searchLimit)
			if serr != nil {
				return fmt.Errorf("search chunks: %w", serr)
			}
			for _, h := range results {
				hits = append(hits, fmt.Sprintf("%s\t%.4f", h.Key, h.Rank))
			}
		default:
			return fmt.Errorf("unknown --kind %q: must be chunk or entity", searchKind)
		}

		if len(hits) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, h := range hits {
			fmt.Println(h)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", "chunk", "What to search: chunk or entity")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of ranked hits to return")
}
