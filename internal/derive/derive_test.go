package derive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgingest/internal/graph"
)

func TestNoisyOrCombinesTwoHalfConfidenceSources(t *testing.T) {
	conf := NoisyOr([]float64{0.5, 0.5})
	assert.InDelta(t, 0.75, conf, 1e-9)
}

func TestNoisyOrClampsToPointNineNine(t *testing.T) {
	conf := NoisyOr([]float64{0.9, 0.9, 0.9, 0.9})
	assert.LessOrEqual(t, conf, 0.99)
}

func TestNoisyOrSingleSourceIsUnchanged(t *testing.T) {
	conf := NoisyOr([]float64{0.6})
	assert.InDelta(t, 0.6, conf, 1e-9)
}

func TestAccumulatorCombineDiscardsBelowMinConfidence(t *testing.T) {
	acc := NewAccumulator()
	now := time.Now()
	acc.Add(graph.EdgeImplements, "FR-01", "main.go", "doc_text_proximity", 0.2, now)
	edges := acc.Combine(MinConfidence)
	assert.Empty(t, edges)
}

func TestAccumulatorCombineKeepsAboveThreshold(t *testing.T) {
	acc := NewAccumulator()
	now := time.Now()
	acc.Add(graph.EdgeImplements, "FR-01", "main.go", "commit_message+touched_file", ConfImplementsCommitMessage, now)
	edges := acc.Combine(MinConfidence)
	require.Len(t, edges, 1)
	assert.Equal(t, "FR-01", edges[0].Subject)
	assert.Equal(t, "main.go", edges[0].Object)
	assert.InDelta(t, ConfImplementsCommitMessage, edges[0].Confidence, 1e-9)
}

func TestExtractRequirementIDs(t *testing.T) {
	ids := ExtractRequirementIDs("Implements FR-08-01 and touches FR-08-01 again, plus BUG-42.")
	assert.ElementsMatch(t, []string{"FR-08-01", "BUG-42"}, ids)
}

func TestExtractEvolvesFromTarget(t *testing.T) {
	target, ok := ExtractEvolvesFromTarget("This supersedes FR-02-01 with a cleaner API.")
	require.True(t, ok)
	assert.Equal(t, "FR-02-01", target)
}

func TestExtractEvolvesFromTargetNoMatch(t *testing.T) {
	_, ok := ExtractEvolvesFromTarget("Just a regular commit message.")
	assert.False(t, ok)
}

func TestDeriveFromCommitsProducesImplementsAndEvolvesFrom(t *testing.T) {
	acc := NewAccumulator()
	commits := []CommitEvidence{
		{Hash: "abc123", Message: "Implements FR-09-02, supersedes FR-09-01", Timestamp: time.Now(), Files: []string{"pkg/foo.go"}},
	}
	DeriveFromCommits(acc, commits)
	edges := acc.Combine(MinConfidence)
	var sawImplements, sawEvolves bool
	for _, e := range edges {
		if e.Kind == graph.EdgeImplements && e.Subject == "FR-09-02" && e.Object == "pkg/foo.go" {
			sawImplements = true
		}
		if e.Kind == graph.EdgeEvolvesFrom && e.Subject == "FR-09-02" && e.Object == "FR-09-01" {
			sawEvolves = true
		}
	}
	assert.True(t, sawImplements)
	assert.True(t, sawEvolves)
}

func TestDeriveDependsOnGatedOnEmptyImportsGraph(t *testing.T) {
	acc := NewAccumulator()
	requirementFiles := map[string][]string{"FR-01": {"a.go"}, "FR-02": {"b.go"}}
	DeriveDependsOn(acc, requirementFiles, map[string][]string{}, time.Now())
	assert.Empty(t, acc.Combine(MinConfidence))
}

func TestDeriveDependsOnFindsOverlap(t *testing.T) {
	acc := NewAccumulator()
	requirementFiles := map[string][]string{"FR-01": {"a.go"}, "FR-02": {"b.go"}}
	importsByFile := map[string][]string{"a.go": {"b.go"}}
	DeriveDependsOn(acc, requirementFiles, importsByFile, time.Now())
	edges := acc.Combine(MinConfidence)
	require.Len(t, edges, 1)
	assert.Equal(t, graph.EdgeDependsOn, edges[0].Kind)
	assert.Equal(t, "FR-01", edges[0].Subject)
	assert.Equal(t, "FR-02", edges[0].Object)
}

func TestAccumulatorTracksFirstAndLastSeen(t *testing.T) {
	acc := NewAccumulator()
	early := time.Now().Add(-time.Hour)
	late := time.Now()
	acc.Add(graph.EdgeImplements, "FR-01", "a.go", "s1", 0.9, late)
	acc.Add(graph.EdgeImplements, "FR-01", "a.go", "s2", 0.5, early)
	edges := acc.Combine(MinConfidence)
	require.Len(t, edges, 1)
	assert.True(t, edges[0].FirstSeen.Equal(early))
	assert.True(t, edges[0].LastSeen.Equal(late))
}

func TestFilterSinceWatermarkExcludesOlderCommits(t *testing.T) {
	watermark := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	commits := []CommitEvidence{
		{Hash: "old", Timestamp: watermark.Add(-time.Hour)},
		{Hash: "new", Timestamp: watermark.Add(time.Hour)},
	}
	filtered := FilterSinceWatermark(commits, watermark)
	require.Len(t, filtered, 1)
	assert.Equal(t, "new", filtered[0].Hash)
}

func TestFilterSinceWatermarkZeroMeansAll(t *testing.T) {
	commits := []CommitEvidence{{Hash: "a"}, {Hash: "b"}}
	filtered := FilterSinceWatermark(commits, time.Time{})
	assert.Len(t, filtered, 2)
}
