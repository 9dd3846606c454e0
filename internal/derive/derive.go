// Package derive is the Relationship Deriver (C8): it accumulates evidence
// from multiple independent strategies into IMPLEMENTS/EVOLVES_FROM/
// DEPENDS_ON edges, combining per-strategy confidences with noisy-or and
// discarding low-confidence results. The evidence-accumulator-with-dimension-
// scores shape is grounded on the teacher's weighted QualityAssessment
// (internal/autopoiesis/quality.go): there, independent dimensions combine
// into one overall score; here, independent evidence sources combine into
// one overall confidence.
package derive

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/logging"
)

// watermarkKey is the single DerivationWatermark row's key: derivation is a
// whole-graph pass, not per-file, so one row suffices.
const watermarkKey = "singleton"

type watermarkProps struct {
	LastProcessedCommitTS string `json:"last_processed_commit_ts"`
}

// LoadWatermark returns the last-processed commit timestamp, or the zero
// time if derivation has never run (spec.md §4.8 incremental processing).
func LoadWatermark(store *graphstore.Store) (time.Time, error) {
	raw, found, err := store.GetNodeProps(graph.NodeDerivationWatermark, watermarkKey)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Time{}, nil
	}
	var wp watermarkProps
	if err := json.Unmarshal(raw, &wp); err != nil {
		return time.Time{}, err
	}
	if wp.LastProcessedCommitTS == "" {
		return time.Time{}, nil
	}
	return graph.ParseISO8601(wp.LastProcessedCommitTS)
}

// AdvanceWatermark atomically records the newest commit timestamp processed
// in this derivation pass, so a later incremental run only considers
// commits strictly after it.
func AdvanceWatermark(store *graphstore.Store, newest time.Time) error {
	if newest.IsZero() {
		return nil
	}
	row := graphstore.NodeRow{Key: watermarkKey, Props: watermarkProps{LastProcessedCommitTS: graph.ISO8601(newest)}}
	return store.BatchUpsertNodes(graph.NodeDerivationWatermark, []graphstore.NodeRow{row})
}

// FilterSinceWatermark keeps only commits strictly newer than the watermark.
func FilterSinceWatermark(commits []CommitEvidence, watermark time.Time) []CommitEvidence {
	if watermark.IsZero() {
		return commits
	}
	var out []CommitEvidence
	for _, c := range commits {
		if c.Timestamp.After(watermark) {
			out = append(out, c)
		}
	}
	return out
}

// MinConfidence is the default discard threshold (spec.md §4.8).
const MinConfidence = 0.3

// Base confidences per strategy (spec.md §4.8 table).
const (
	ConfImplementsCommitMessage = 0.9
	ConfImplementsDocText       = 0.5
	ConfImplementsCodeComment   = 0.8
	ConfEvolvesFromCommitMsg    = 0.7
	ConfDependsOnImportOverlap  = 0.6
)

// key identifies one (subject, object, rel_kind) evidence bucket.
type key struct {
	Subject string
	Object  string
	Kind    graph.EdgeKind
}

// Evidence is the accumulator entry for one (subject, object, kind).
type Evidence struct {
	Confidences []float64
	Sources     []string
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Accumulator collects evidence across strategies before combination.
type Accumulator struct {
	entries map[key]*Evidence
}

// NewAccumulator creates an empty evidence accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{entries: make(map[key]*Evidence)}
}

// Add records one strategy's contribution to a (subject, object, kind) edge.
func (a *Accumulator) Add(kind graph.EdgeKind, subject, object, source string, confidence float64, at time.Time) {
	k := key{Subject: subject, Object: object, Kind: kind}
	e, ok := a.entries[k]
	if !ok {
		e = &Evidence{FirstSeen: at, LastSeen: at}
		a.entries[k] = e
	}
	e.Confidences = append(e.Confidences, confidence)
	e.Sources = append(e.Sources, source)
	if at.Before(e.FirstSeen) {
		e.FirstSeen = at
	}
	if at.After(e.LastSeen) {
		e.LastSeen = at
	}
}

// Combine runs the noisy-or combination over every accumulated entry and
// returns the edges that clear minConfidence (spec.md §4.8).
func (a *Accumulator) Combine(minConfidence float64) []graph.DerivedEdge {
	if minConfidence <= 0 {
		minConfidence = MinConfidence
	}
	var edges []graph.DerivedEdge
	for k, e := range a.entries {
		conf := NoisyOr(e.Confidences)
		if conf < minConfidence {
			continue
		}
		edges = append(edges, graph.DerivedEdge{
			Kind: k.Kind, Subject: k.Subject, Object: k.Object,
			Sources: e.Sources, Confidence: conf,
			FirstSeen: e.FirstSeen, LastSeen: e.LastSeen,
			Provenance: strings.Join(e.Sources, ","),
		})
	}
	return edges
}

// NoisyOr combines independent evidence confidences as 1 − Π(1 − c_i),
// clamped to [0, 0.99] (spec.md §4.8).
func NoisyOr(confidences []float64) float64 {
	product := 1.0
	for _, c := range confidences {
		product *= 1 - c
	}
	conf := 1 - product
	return math.Min(conf, 0.99)
}

var requirementIDRe = regexp.MustCompile(`\b([A-Z]{2,6}-\d{2,4}(?:-\d{2,4})?)\b`)
var evolvesFromRe = regexp.MustCompile(`(?i)\b(?:supersedes|replaces|evolves from)\s+([A-Za-z0-9_.\-\/]+)`)

// ExtractRequirementIDs finds requirement-id-shaped tokens (e.g. FR-08-01)
// in free text.
func ExtractRequirementIDs(text string) []string {
	matches := requirementIDRe.FindAllString(text, -1)
	return dedupe(matches)
}

// ExtractEvolvesFromTarget finds a commit-message pattern like "supersedes X".
func ExtractEvolvesFromTarget(message string) (string, bool) {
	m := evolvesFromRe.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// CommitEvidence is one commit's data relevant to derivation strategies.
type CommitEvidence struct {
	Hash      string
	Message   string
	Timestamp time.Time
	Files     []string // touched files
}

// DeriveFromCommits runs the commit-message-based strategies
// (IMPLEMENTS/EVOLVES_FROM) over a batch of commits past the watermark.
func DeriveFromCommits(acc *Accumulator, commits []CommitEvidence) {
	for _, c := range commits {
		ids := ExtractRequirementIDs(c.Message)
		for _, id := range ids {
			for _, f := range c.Files {
				acc.Add(graph.EdgeImplements, id, f, "commit_message+touched_file", ConfImplementsCommitMessage, c.Timestamp)
			}
		}
		if target, ok := ExtractEvolvesFromTarget(c.Message); ok {
			for _, id := range ids {
				acc.Add(graph.EdgeEvolvesFrom, id, target, "commit_message_pattern", ConfEvolvesFromCommitMsg, c.Timestamp)
			}
		}
	}
}

// DeriveFromDocText runs the document-text IMPLEMENTS strategy: a
// requirement id named near a file path in the same chunk.
func DeriveFromDocText(acc *Accumulator, chunkText string, knownFiles map[string]bool, at time.Time) {
	ids := ExtractRequirementIDs(chunkText)
	if len(ids) == 0 {
		return
	}
	for path := range knownFiles {
		if strings.Contains(chunkText, path) {
			for _, id := range ids {
				acc.Add(graph.EdgeImplements, id, path, "doc_text_proximity", ConfImplementsDocText, at)
			}
		}
	}
}

// DeriveFromCodeComments runs the code-comment IMPLEMENTS strategy.
func DeriveFromCodeComments(acc *Accumulator, filePath, commentText string, at time.Time) {
	for _, id := range ExtractRequirementIDs(commentText) {
		acc.Add(graph.EdgeImplements, id, filePath, "code_comment", ConfImplementsCodeComment, at)
	}
}

// DeriveDependsOn gates DEPENDS_ON on a non-empty imports graph: emits
// nothing when importsByFile is empty, avoiding spurious warnings
// (spec.md §4.6).
func DeriveDependsOn(acc *Accumulator, requirementFiles map[string][]string, importsByFile map[string][]string, at time.Time) {
	if len(importsByFile) == 0 {
		return
	}
	for reqA, filesA := range requirementFiles {
		for reqB, filesB := range requirementFiles {
			if reqA == reqB {
				continue
			}
			if importOverlap(filesA, filesB, importsByFile) {
				acc.Add(graph.EdgeDependsOn, reqA, reqB, "import_graph_overlap", ConfDependsOnImportOverlap, at)
			}
		}
	}
}

func importOverlap(filesA, filesB []string, importsByFile map[string][]string) bool {
	targets := make(map[string]bool)
	for _, f := range filesA {
		for _, imp := range importsByFile[f] {
			targets[imp] = true
		}
	}
	for _, f := range filesB {
		if targets[f] {
			return true
		}
	}
	return false
}

// WriteDerivedEdges batches derived edges to the store, keyed so reruns
// converge (each DerivedEdge's subject+object+kind is its natural key).
func WriteDerivedEdges(store *graphstore.Store, edges []graph.DerivedEdge) error {
	if len(edges) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryDerive, "WriteDerivedEdges")
	defer timer.Stop()

	seenReq := make(map[string]bool)
	var reqRows []graphstore.NodeRow
	addReq := func(id string) {
		if id == "" || seenReq[id] {
			return
		}
		seenReq[id] = true
		reqRows = append(reqRows, graphstore.NodeRow{Key: id, Props: graph.Requirement{ID: id, Origin: graph.RequirementOriginCommitMessage}})
	}

	byKind := make(map[graph.EdgeKind][]graphstore.EdgeRow)
	for _, e := range edges {
		if subjectKindFor(e.Kind) == graph.NodeRequirement {
			addReq(e.Subject)
		}
		if objectKindFor(e.Kind) == graph.NodeRequirement {
			addReq(e.Object)
		}
		c := e.Confidence
		ts := e.LastSeen
		byKind[e.Kind] = append(byKind[e.Kind], graphstore.EdgeRow{
			SubjectKind: subjectKindFor(e.Kind), SubjectKey: e.Subject,
			ObjectKind: objectKindFor(e.Kind), ObjectKey: e.Object,
			Props:      map[string]any{"sources": e.Sources, "provenance": e.Provenance, "first_seen_ts": graph.ISO8601(e.FirstSeen)},
			Confidence: &c,
			Timestamp:  &ts,
		})
	}
	if len(reqRows) > 0 {
		if err := store.BatchUpsertNodes(graph.NodeRequirement, reqRows); err != nil {
			return err
		}
	}
	for kind, rows := range byKind {
		if err := store.BatchUpsertEdges(kind, rows); err != nil {
			return err
		}
	}
	return nil
}

func subjectKindFor(kind graph.EdgeKind) graph.NodeKind {
	switch kind {
	case graph.EdgeImplements, graph.EdgeEvolvesFrom, graph.EdgeDependsOn:
		return graph.NodeRequirement
	default:
		return graph.NodeFile
	}
}

func objectKindFor(kind graph.EdgeKind) graph.NodeKind {
	switch kind {
	case graph.EdgeImplements:
		return graph.NodeFile
	case graph.EdgeEvolvesFrom, graph.EdgeDependsOn:
		return graph.NodeRequirement
	default:
		return graph.NodeFile
	}
}
