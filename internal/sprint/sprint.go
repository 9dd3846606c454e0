// Package sprint is the Sprint Mapper (C7): it walks the planning-document
// subtree, extracts Sprint nodes from front-matter or inline metadata, and
// attaches commits within the sprint window plus the documents and files
// the sprint touches. Grounded on the teacher's front-matter-ish metadata
// parsing in internal/world/code_elements.go, using yaml.v3 (already a
// teacher dependency) for the front-matter block itself.
package sprint

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/logging"
)

// frontMatter is the recognized YAML front-matter shape for a sprint doc.
type frontMatter struct {
	Sprint int    `yaml:"sprint"`
	Title  string `yaml:"title"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
}

var inlineSprintRe = regexp.MustCompile(`(?i)sprint[\s:#-]+(\d+)`)
var inlineStartRe = regexp.MustCompile(`(?i)start[:\s]+([0-9T:\-+Z]+)`)
var inlineEndRe = regexp.MustCompile(`(?i)end[:\s]+([0-9T:\-+Z]+)`)

// ParseSprintDoc extracts a Sprint from a planning document's front-matter,
// falling back to inline metadata patterns. Returns (nil, false) if no
// sprint metadata is found; dates are parsed and re-stored exactly (never
// naive-concatenated — spec.md §4.7, invariant 4).
func ParseSprintDoc(path, text string) (*graph.Sprint, bool) {
	fm, body, ok := extractFrontMatter(text)
	if ok && fm.Sprint != 0 {
		start, sok := normalizeDate(fm.Start)
		end, eok := normalizeDate(fm.End)
		if sok && eok {
			return &graph.Sprint{Number: fm.Sprint, Title: fm.Title, Start: start, End: end}, true
		}
	}

	number, numOK := firstIntMatch(inlineSprintRe, body)
	startStr, startOK := firstMatch(inlineStartRe, body)
	endStr, endOK := firstMatch(inlineEndRe, body)
	if !numOK || !startOK || !endOK {
		return nil, false
	}
	start, sok := normalizeDate(startStr)
	end, eok := normalizeDate(endStr)
	if !sok || !eok {
		return nil, false
	}
	return &graph.Sprint{Number: number, Title: titleFromPath(path), Start: start, End: end}, true
}

func extractFrontMatter(text string) (frontMatter, string, bool) {
	if !strings.HasPrefix(text, "---\n") {
		return frontMatter{}, text, false
	}
	rest := text[4:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return frontMatter{}, text, false
	}
	block := rest[:idx]
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		logging.Get(logging.CategorySprint).Warn("front-matter parse failed: %v", err)
		return frontMatter{}, text, false
	}
	bodyStart := idx + len("\n---")
	if bodyStart < len(rest) {
		return fm, rest[bodyStart:], true
	}
	return fm, "", true
}

// normalizeDate parses an ISO-8601 value as received. A bare date (no time
// portion) is normalized to midnight UTC — the one explicit exception
// spec.md §4.7 allows, never a string concatenation.
func normalizeDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func firstMatch(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func firstIntMatch(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

func titleFromPath(path string) string {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	return strings.TrimSuffix(base, ".md")
}

// WriteSprint upserts a Sprint node and its INCLUDES/CONTAINS_DOC edges.
// commitsInWindow and docsInFolder are precomputed by the caller (the
// orchestrator, which has commit timestamps and folder membership).
func WriteSprint(store *graphstore.Store, sp graph.Sprint, docPath string, commitsInWindow []string, docsInFolder []string) error {
	timer := logging.StartTimer(logging.CategorySprint, "WriteSprint")
	defer timer.Stop()

	key := strconv.Itoa(sp.Number)
	if err := store.BatchUpsertNodes(graph.NodeSprint, []graphstore.NodeRow{{Key: key, Props: sp}}); err != nil {
		return err
	}

	var includes []graphstore.EdgeRow
	for _, hash := range commitsInWindow {
		includes = append(includes, graphstore.EdgeRow{SubjectKind: graph.NodeSprint, SubjectKey: key, ObjectKind: graph.NodeCommit, ObjectKey: hash})
	}
	if err := store.BatchUpsertEdges(graph.EdgeIncludes, includes); err != nil {
		return err
	}

	var containsDoc []graphstore.EdgeRow
	for _, doc := range docsInFolder {
		containsDoc = append(containsDoc, graphstore.EdgeRow{SubjectKind: graph.NodeSprint, SubjectKey: key, ObjectKind: graph.NodeDocument, ObjectKey: doc})
	}
	return store.BatchUpsertEdges(graph.EdgeContainsDoc, containsDoc)
}

// RollupInvolvesFile aggregates TOUCHED edges across a sprint's included
// commits into INVOLVES_FILE edges, weighted by touch count.
func RollupInvolvesFile(store *graphstore.Store, sprintNumber int, commitHashes []string) error {
	key := strconv.Itoa(sprintNumber)
	counts := make(map[string]int)
	for _, hash := range commitHashes {
		files, err := store.EdgeObjectKeys(graph.EdgeTouched, graph.NodeCommit, hash)
		if err != nil {
			return err
		}
		for _, f := range files {
			counts[f]++
		}
	}
	var rows []graphstore.EdgeRow
	for file, count := range counts {
		c := float64(count)
		rows = append(rows, graphstore.EdgeRow{
			SubjectKind: graph.NodeSprint, SubjectKey: key,
			ObjectKind: graph.NodeFile, ObjectKey: file,
			Weight: &c,
		})
	}
	return store.BatchUpsertEdges(graph.EdgeInvolvesFile, rows)
}
