// Package xref is the Cross-Reference Linker (C9): it sweeps chunk and
// document text to find mentions of known symbols, libraries, files, and
// commits, and derives CO_OCCURS_WITH edges from file co-change frequency.
// The bounded-top-k, chunked-batch sweep with a size cap per round is
// grounded on the teacher's SparseRetriever (internal/retrieval/sparse.go),
// which does keyword search over large repos in bounded, cacheable batches
// rather than one unbounded pass.
package xref

import (
	"strings"
	"unicode"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/logging"
)

// BatchSize caps how many chunks are swept per round, so a stop signal is
// observed between batches rather than mid-sweep over the whole corpus.
const BatchSize = 1000

// DefaultMentionsPerChunk bounds how many MENTIONS_SYMBOL edges one chunk
// may contribute, keeping noisy generic-name matches from exploding the edge
// count (spec.md §4.9).
const DefaultMentionsPerChunk = 10

// MinTokenLength is the shortest symbol/library token considered for a
// sweep match; shorter tokens are too noisy to be meaningful.
const MinTokenLength = 3

// Result is the telemetry C9 reports to the orchestrator.
type Result struct {
	MentionsSymbolCreated  int
	MentionsLibraryCreated int
	MentionsFileCreated    int
	MentionsCommitCreated  int
	CoOccursCreated        int
	RelatesToCreated       int
	Errors                 []string
}

// ChunkRecord is the minimal view xref needs of a Chunk for sweeping.
type ChunkRecord struct {
	ID   string
	Text string
}

// SymbolRef is a known Symbol this sweep may find mentioned in text.
type SymbolRef struct {
	UID  string
	Name string
}

// LibraryRef is a known Library this sweep may find mentioned in text.
type LibraryRef struct {
	Slug        string
	DisplayName string
	Aliases     []string
}

// symbolCandidate pairs a symbol with its match score (occurrence count) so
// top-k bounding can rank before writing edges.
type symbolCandidate struct {
	uid   string
	count int
}

// SweepMentionsSymbol finds symbol name occurrences in each chunk's text,
// bounded to maxPerChunk matches (spec.md §4.9, top-k per chunk).
func SweepMentionsSymbol(chunks []ChunkRecord, symbols []SymbolRef, maxPerChunk int) map[string][]string {
	if maxPerChunk <= 0 {
		maxPerChunk = DefaultMentionsPerChunk
	}
	out := make(map[string][]string, len(chunks))
	byName := make(map[string][]string)
	for _, s := range symbols {
		if len(s.Name) < MinTokenLength {
			continue
		}
		byName[s.Name] = append(byName[s.Name], s.UID)
	}
	for _, c := range chunks {
		tokens := tokenize(c.Text)
		var candidates []symbolCandidate
		seen := make(map[string]bool)
		for _, tok := range tokens {
			uids, ok := byName[tok]
			if !ok {
				continue
			}
			for _, uid := range uids {
				if seen[uid] {
					continue
				}
				seen[uid] = true
				candidates = append(candidates, symbolCandidate{uid: uid, count: strings.Count(c.Text, tok)})
			}
		}
		if len(candidates) == 0 {
			continue
		}
		sortCandidatesDesc(candidates)
		if len(candidates) > maxPerChunk {
			candidates = candidates[:maxPerChunk]
		}
		for _, cand := range candidates {
			out[c.ID] = append(out[c.ID], cand.uid)
		}
	}
	return out
}

func sortCandidatesDesc(c []symbolCandidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].count > c[j-1].count; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// SweepMentionsLibrary finds library mentions via an fts5 sweep of the
// indexed chunk text (chunk_fts), one MATCH query per known display
// name/alias, bounded to maxHits chunks per name (spec.md §4.9's fulltext
// sweep, grounded on the teacher's SparseRetriever keyword search). A phrase
// query is run per alias rather than one combined query because
// EscapeFTS5Query intentionally quotes its whole input as a single literal
// phrase, so "react react-dom" would only match that exact sequence.
func SweepMentionsLibrary(store *graphstore.Store, lib LibraryRef, maxHits int) (map[string][]string, error) {
	if maxHits <= 0 {
		maxHits = DefaultMentionsPerChunk
	}
	out := make(map[string][]string)
	seen := make(map[string]bool)
	names := append([]string{lib.DisplayName}, lib.Aliases...)
	for _, n := range names {
		if n == "" {
			continue
		}
		hits, err := store.SearchChunks(n, maxHits)
		if err != nil {
			return out, err
		}
		for _, h := range hits {
			if seen[h.Key] {
				continue
			}
			seen[h.Key] = true
			out[h.Key] = append(out[h.Key], lib.Slug)
		}
	}
	return out, nil
}

// SweepMentionsFile finds file-path mentions via an fts5 sweep of chunk_fts,
// bounded to maxHits chunks per known path (spec.md §4.9).
func SweepMentionsFile(store *graphstore.Store, knownPath string, maxHits int) (map[string][]string, error) {
	if maxHits <= 0 {
		maxHits = DefaultMentionsPerChunk
	}
	if len(knownPath) < MinTokenLength {
		return nil, nil
	}
	out := make(map[string][]string)
	hits, err := store.SearchChunks(knownPath, maxHits)
	if err != nil {
		return out, err
	}
	for _, h := range hits {
		out[h.Key] = append(out[h.Key], knownPath)
	}
	return out, nil
}

// SweepMentionsCommit finds commit-hash-shaped tokens (7-40 hex chars) in
// chunk text and keeps only those that match a known commit hash.
func SweepMentionsCommit(chunks []ChunkRecord, knownHashes map[string]string) map[string][]string {
	out := make(map[string][]string)
	for _, c := range chunks {
		for _, tok := range tokenize(c.Text) {
			if !looksLikeHash(tok) {
				continue
			}
			for full, short := range knownHashes {
				if tok == full || (short != "" && tok == short) {
					out[c.ID] = append(out[c.ID], full)
				}
			}
		}
	}
	return out
}

func looksLikeHash(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

func tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() >= MinTokenLength {
			tokens = append(tokens, b.String())
		}
		b.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// WriteMentions batches MENTIONS_* edges for one chunked sweep round.
func WriteMentions(store *graphstore.Store, kind graph.EdgeKind, objectKind graph.NodeKind, mentions map[string][]string, result *Result) error {
	if len(mentions) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryXref, "WriteMentions:"+string(kind))
	defer timer.Stop()

	var rows []graphstore.EdgeRow
	for chunkID, targets := range mentions {
		for _, target := range targets {
			rows = append(rows, graphstore.EdgeRow{
				SubjectKind: graph.NodeChunk, SubjectKey: chunkID,
				ObjectKind: objectKind, ObjectKey: target,
			})
		}
	}
	if err := store.BatchUpsertEdges(kind, rows); err != nil {
		return err
	}
	switch kind {
	case graph.EdgeMentionsSymbol:
		result.MentionsSymbolCreated += len(rows)
	case graph.EdgeMentionsLibrary:
		result.MentionsLibraryCreated += len(rows)
	case graph.EdgeMentionsFile:
		result.MentionsFileCreated += len(rows)
	case graph.EdgeMentionsCommit:
		result.MentionsCommitCreated += len(rows)
	}
	return nil
}

// EntityRef identifies one non-chunk entity a chunk was swept to mention,
// independent of which MENTIONS_* sweep found it.
type EntityRef struct {
	Kind graph.NodeKind
	Key  string
}

// entityPair is a canonically-ordered unordered pair, so (a,b) and (b,a)
// tally into the same bucket.
type entityPair struct {
	A, B EntityRef
}

func orderedEntityPair(a, b EntityRef) entityPair {
	if a.Kind < b.Kind || (a.Kind == b.Kind && a.Key <= b.Key) {
		return entityPair{A: a, B: b}
	}
	return entityPair{A: b, B: a}
}

func dedupeEntityRefs(refs []EntityRef) []EntityRef {
	seen := make(map[EntityRef]bool, len(refs))
	var out []EntityRef
	for _, r := range refs {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// DeriveRelatesTo bridges entities that converge on the same chunk across
// the MENTIONS_* sweeps: any two distinct entities mentioned by the same
// chunk accumulate a RELATES_TO edge weighted by how many chunks converge on
// that pair (spec.md §3: "emitted when multiple cross-references converge").
func DeriveRelatesTo(perChunk map[string][]EntityRef) []graphstore.EdgeRow {
	counts := make(map[entityPair]int)
	for _, refs := range perChunk {
		deduped := dedupeEntityRefs(refs)
		for i := 0; i < len(deduped); i++ {
			for j := i + 1; j < len(deduped); j++ {
				counts[orderedEntityPair(deduped[i], deduped[j])]++
			}
		}
	}
	var rows []graphstore.EdgeRow
	for pair, count := range counts {
		w := float64(count)
		rows = append(rows, graphstore.EdgeRow{
			SubjectKind: pair.A.Kind, SubjectKey: pair.A.Key,
			ObjectKind: pair.B.Kind, ObjectKey: pair.B.Key,
			Weight: &w,
		})
	}
	return rows
}

// WriteRelatesTo batches RELATES_TO edge rows derived by DeriveRelatesTo.
func WriteRelatesTo(store *graphstore.Store, rows []graphstore.EdgeRow, result *Result) error {
	if len(rows) == 0 {
		return nil
	}
	if err := store.BatchUpsertEdges(graph.EdgeRelatesTo, rows); err != nil {
		return err
	}
	result.RelatesToCreated += len(rows)
	return nil
}

// CommitFiles is one commit's set of touched files, used to derive
// CO_OCCURS_WITH edges from co-change frequency.
type CommitFiles struct {
	Hash  string
	Files []string
}

// pairKey orders a file pair canonically so (a,b) and (b,a) accumulate into
// the same bucket.
type pairKey struct {
	A, B string
}

func orderedPair(a, b string) pairKey {
	if a <= b {
		return pairKey{A: a, B: b}
	}
	return pairKey{A: b, B: a}
}

// DeriveCoOccursWith tallies how often each ordered pair of files is touched
// in the same commit, and returns weighted edge rows ready to write
// (spec.md §4.9: incremental, weighted by co-change count).
func DeriveCoOccursWith(commits []CommitFiles) []graphstore.EdgeRow {
	counts := make(map[pairKey]int)
	for _, c := range commits {
		files := dedupeFiles(c.Files)
		for i := 0; i < len(files); i++ {
			for j := i + 1; j < len(files); j++ {
				counts[orderedPair(files[i], files[j])]++
			}
		}
	}
	var rows []graphstore.EdgeRow
	for pair, count := range counts {
		w := float64(count)
		rows = append(rows, graphstore.EdgeRow{
			SubjectKind: graph.NodeFile, SubjectKey: pair.A,
			ObjectKind: graph.NodeFile, ObjectKey: pair.B,
			Weight: &w,
		})
	}
	return rows
}

func dedupeFiles(files []string) []string {
	seen := make(map[string]bool, len(files))
	var out []string
	for _, f := range files {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// WriteCoOccursWith batches CO_OCCURS_WITH edge rows to the store.
func WriteCoOccursWith(store *graphstore.Store, rows []graphstore.EdgeRow, result *Result) error {
	if len(rows) == 0 {
		return nil
	}
	if err := store.BatchUpsertEdges(graph.EdgeCoOccursWith, rows); err != nil {
		return err
	}
	result.CoOccursCreated += len(rows)
	return nil
}

// BatchChunks splits a chunk slice into BatchSize-sized groups, so callers
// can observe a stop signal between rounds instead of sweeping the whole
// corpus in one pass.
func BatchChunks(chunks []ChunkRecord) [][]ChunkRecord {
	var batches [][]ChunkRecord
	for start := 0; start < len(chunks); start += BatchSize {
		end := start + BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	return batches
}
