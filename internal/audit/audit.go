// Package audit is the Auditor (C11): a read-only pass over the finished
// graph that reports counts, orphans, decode statistics, library coverage,
// and a weighted quality score. Grounded on the teacher's weighted
// dimension-scoring idiom (internal/autopoiesis/quality.go's
// QualityAssessment/clamp pattern) generalized from tool-output scoring to
// graph-integrity scoring.
package audit

import (
	"encoding/json"
	"sort"
	"time"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/logging"
)

// maxDecodeSamples bounds how many fallback-decoded paths are reported.
const maxDecodeSamples = 20

// systemKinds are excluded from orphan scans: singleton bookkeeping nodes
// with no domain edges by design.
var systemKinds = map[graph.NodeKind]bool{
	graph.NodeDerivationWatermark: true,
	graph.NodePipelineState:       true,
}

// domainNodeKinds are the node kinds counted and orphan-scanned.
var domainNodeKinds = []graph.NodeKind{
	graph.NodeCommit, graph.NodeFile, graph.NodeChunk, graph.NodeDocument,
	graph.NodeSymbol, graph.NodeLibrary, graph.NodeRequirement, graph.NodeSprint,
	graph.NodeAuthor,
}

var domainEdgeKinds = []graph.EdgeKind{
	graph.EdgePartOf, graph.EdgeContainsChunk, graph.EdgeDefinedIn, graph.EdgeContainsDoc,
	graph.EdgeIncludes, graph.EdgeTouched, graph.EdgeNextCommit, graph.EdgePrevCommit,
	graph.EdgeInvolvesFile, graph.EdgeMentionsSymbol, graph.EdgeMentionsLibrary,
	graph.EdgeMentionsFile, graph.EdgeMentionsCommit, graph.EdgeUsesLibrary, graph.EdgeImports,
	graph.EdgeCoOccursWith, graph.EdgeImplements, graph.EdgeEvolvesFrom, graph.EdgeDependsOn,
	graph.EdgeRelatesTo, graph.EdgeAuthoredBy,
}

// Weights configures the weighted sum behind QualityScore. Each weight is
// the maximum number of points lost when that check's ratio of bad-to-total
// reaches 1.0; losses are subtracted from a fixed 100-point ceiling and the
// result is clamped to [0,100].
type Weights struct {
	ChunksWithoutLinks        float64
	RequirementsWithoutPartOf float64
	LibrariesWithoutLinks     float64
	OrphanNodes               float64
	DecodeFallback            float64
}

// DefaultWeights matches the teacher's dimension-weighting scale (each
// dimension worth a double-digit share of the 100-point ceiling).
func DefaultWeights() Weights {
	return Weights{
		ChunksWithoutLinks:        30,
		RequirementsWithoutPartOf: 15,
		LibrariesWithoutLinks:     15,
		OrphanNodes:               25,
		DecodeFallback:            15,
	}
}

// NodeCounts maps a node kind's display label to its count.
type NodeCounts map[string]int

// EdgeCounts maps an edge kind's display label to its count.
type EdgeCounts map[string]int

// DecodeStats summarizes C2's text-decoding outcomes across all File nodes.
type DecodeStats struct {
	ByEncoding       map[string]int `json:"by_encoding"`
	FallbackCount    int            `json:"fallback_count"`
	FallbackSamples  []string       `json:"decode_fallback_samples"`
	ReplacementChars int            `json:"replacement_chars_total"`
}

// LibraryCoverage is one manifest source's usage tally.
type LibraryCoverage struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Report is the auditor's full output (spec.md §4.11).
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`

	NodeCounts NodeCounts `json:"node_counts"`
	EdgeCounts EdgeCounts `json:"edge_counts"`

	OrphanNodes map[string][]string `json:"orphan_nodes"`

	ChunksWithoutLinks        []string `json:"chunks_without_links"`
	RequirementsWithoutPartOf []string `json:"requirements_without_part_of"`
	LibrariesWithoutLinks     []string `json:"libraries_without_links"`

	Decode DecodeStats `json:"decode"`

	LibraryCoverage []LibraryCoverage `json:"library_coverage"`

	QualityScore float64 `json:"quality_score"`
	Excellent    bool    `json:"excellent"`
}

// Run executes every check against store and returns the full report. It
// never returns an error: any count query that might be empty on a
// partially-populated graph is treated as zero, per spec.md §4.11.
func Run(store *graphstore.Store) *Report {
	timer := logging.StartTimer(logging.CategoryAudit, "Run")
	defer timer.Stop()

	r := &Report{
		GeneratedAt: time.Now(),
		NodeCounts:  NodeCounts{},
		EdgeCounts:  EdgeCounts{},
		OrphanNodes: map[string][]string{},
	}

	for _, kind := range domainNodeKinds {
		n, err := store.CountNodes(kind)
		if err != nil {
			logging.Get(logging.CategoryAudit).Warn("count nodes %s: %v", kind, err)
			continue
		}
		r.NodeCounts[string(kind)] = n
	}
	for _, kind := range domainEdgeKinds {
		n, err := store.CountEdges(kind)
		if err != nil {
			logging.Get(logging.CategoryAudit).Warn("count edges %s: %v", kind, err)
			continue
		}
		r.EdgeCounts[string(kind)] = n
	}

	for _, kind := range domainNodeKinds {
		if systemKinds[kind] {
			continue
		}
		keys, err := store.OrphanKeys(kind)
		if err != nil {
			continue
		}
		if len(keys) > 0 {
			r.OrphanNodes[string(kind)] = keys
		}
	}

	r.ChunksWithoutLinks = chunksWithoutLinks(store)
	r.RequirementsWithoutPartOf, _ = store.KeysWithoutOutgoingEdge(graph.NodeRequirement, graph.EdgePartOf)
	r.LibrariesWithoutLinks = librariesWithoutLinks(store)

	r.Decode = decodeStats(store)
	r.LibraryCoverage = libraryCoverage(store)

	r.QualityScore = score(r, DefaultWeights())
	r.Excellent = r.QualityScore >= 99

	return r
}

// chunksWithoutLinks returns Chunks missing either their PART_OF (to a File)
// or CONTAINS_CHUNK (from a File) partner — an invariant violation per
// spec.md §4.11, since WriteChunks always writes both in the same batch.
func chunksWithoutLinks(store *graphstore.Store) []string {
	noPartOf, _ := store.KeysWithoutOutgoingEdge(graph.NodeChunk, graph.EdgePartOf)
	noContains, _ := store.KeysWithoutIncomingEdge(graph.NodeChunk, graph.EdgeContainsChunk)
	seen := make(map[string]bool, len(noPartOf)+len(noContains))
	var out []string
	for _, k := range append(noPartOf, noContains...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// librariesWithoutLinks returns Libraries referenced by neither USES_LIBRARY
// (import-derived) nor MENTIONS_LIBRARY (text-swept) edges.
func librariesWithoutLinks(store *graphstore.Store) []string {
	noUses, _ := store.KeysWithoutIncomingEdge(graph.NodeLibrary, graph.EdgeUsesLibrary)
	noMentions, _ := store.KeysWithoutIncomingEdge(graph.NodeLibrary, graph.EdgeMentionsLibrary)
	mentioned := make(map[string]bool, len(noMentions))
	for _, k := range noMentions {
		mentioned[k] = true
	}
	var out []string
	for _, k := range noUses {
		if mentioned[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func decodeStats(store *graphstore.Store) DecodeStats {
	stats := DecodeStats{ByEncoding: map[string]int{}}
	props, err := store.AllNodeProps(graph.NodeFile)
	if err != nil {
		return stats
	}
	for _, raw := range props {
		var f graph.File
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		encoding := f.Decoding.Encoding
		if encoding == "" {
			encoding = "unknown"
		}
		stats.ByEncoding[encoding]++
		if f.Decoding.FallbackUsed {
			stats.FallbackCount++
			stats.ReplacementChars += f.Decoding.ReplacementChars
			if len(stats.FallbackSamples) < maxDecodeSamples {
				stats.FallbackSamples = append(stats.FallbackSamples, f.Path)
			}
		}
	}
	return stats
}

func libraryCoverage(store *graphstore.Store) []LibraryCoverage {
	props, err := store.AllNodeProps(graph.NodeLibrary)
	if err != nil {
		return nil
	}
	bySource := map[string]int{}
	for _, raw := range props {
		var lib graph.Library
		if err := json.Unmarshal(raw, &lib); err != nil {
			continue
		}
		source := string(lib.Source)
		if source == "" {
			source = "unknown"
		}
		bySource[source]++
	}
	out := make([]LibraryCoverage, 0, len(bySource))
	for source, count := range bySource {
		out = append(out, LibraryCoverage{Source: source, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// score weights each check's failure ratio against its configured points
// and subtracts the loss from a 100-point ceiling, clamped to [0,100]. A
// check with zero denominator (e.g. no Requirements exist at all) passes
// vacuously and contributes no loss.
func score(r *Report, w Weights) float64 {
	total := 100.0

	chunkCount := r.NodeCounts[string(graph.NodeChunk)]
	total -= w.ChunksWithoutLinks * ratio(len(r.ChunksWithoutLinks), chunkCount)

	reqCount := r.NodeCounts[string(graph.NodeRequirement)]
	total -= w.RequirementsWithoutPartOf * ratio(len(r.RequirementsWithoutPartOf), reqCount)

	libCount := r.NodeCounts[string(graph.NodeLibrary)]
	total -= w.LibrariesWithoutLinks * ratio(len(r.LibrariesWithoutLinks), libCount)

	orphanTotal := 0
	nodeTotal := 0
	for _, kind := range domainNodeKinds {
		if systemKinds[kind] {
			continue
		}
		nodeTotal += r.NodeCounts[string(kind)]
		orphanTotal += len(r.OrphanNodes[string(kind)])
	}
	total -= w.OrphanNodes * ratio(orphanTotal, nodeTotal)

	fileCount := r.NodeCounts[string(graph.NodeFile)]
	total -= w.DecodeFallback * ratio(r.Decode.FallbackCount, fileCount)

	return clamp(total, 0, 100)
}

func ratio(bad, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(bad) / float64(total)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
