// Package chunk is the Chunker (C5): splits documents into heading-scoped
// chunks and code files into symbol- or span-scoped chunks, then writes
// Chunk nodes with both PART_OF and CONTAINS_CHUNK edges in the same batch.
// Document chunking walks a goldmark AST (promoted from the teacher's
// transitive glamour dependency); code chunking reuses internal/symbols'
// parser for symbol spans, falling back to fixed-size overlapping spans.
package chunk

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/logging"
	"kgingest/internal/symbols"
)

// SpanLines and SpanOverlap are the fixed-size fallback chunking parameters
// for code files with no available language parser (spec.md §4.5).
const (
	SpanLines   = 120
	SpanOverlap = 10
)

// Chunked is one chunk ready for the store, paired with its text for
// fulltext indexing.
type Chunked struct {
	Chunk graph.Chunk
	Text  string
}

// Result is the telemetry C5 reports to the orchestrator.
type Result struct {
	ChunksCreated int
	Errors        []string
}

// ChunkDocument splits markdown text into heading-scoped chunks
// (spec.md §4.5). Front-matter (a leading --- delimited block) is stripped.
func ChunkDocument(filePath, text string) []Chunked {
	body := stripFrontMatter(text)
	md := goldmark.New()
	reader := []byte(body)
	root := md.Parser().Parse(textNewReader(reader))

	type section struct {
		headingChain []string
		level        int
		startLine    int
	}
	var chunks []Chunked
	var stack []section
	ordinal := 0

	var lastHeadingEnd int
	lines := splitLinesKeepingOffsets(reader)

	flush := func(endOffset int) {
		if len(stack) == 0 {
			return
		}
		top := stack[len(stack)-1]
		startOffset := top.startLine
		if endOffset <= startOffset {
			return
		}
		chunkText := strings.TrimSpace(string(reader[startOffset:endOffset]))
		if chunkText == "" {
			return
		}
		id := fmt.Sprintf("%s#doc:%d", filePath, ordinal)
		ordinal++
		startLine, endLine := lineRange(lines, startOffset, endOffset)
		chunks = append(chunks, Chunked{
			Chunk: graph.Chunk{
				ID: id, File: filePath, Kind: graph.ChunkKindDoc,
				Heading: strings.Join(top.headingChain, " > "),
				Span:    graph.Span{StartLine: startLine, EndLine: endLine},
				Length:  len(chunkText),
			},
			Text: chunkText,
		})
	}

	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		lines_ := heading.Lines()
		startOffset := lastHeadingEnd
		if lines_.Len() > 0 {
			startOffset = lines_.At(0).Start
			// Back up to the start of the heading's line so its "#" markers
			// do not end up in the previous section's text.
			for startOffset > 0 && reader[startOffset-1] != '\n' {
				startOffset--
			}
		}
		flush(startOffset)
		lastHeadingEnd = startOffset

		headingText := extractText(heading, reader)
		for len(stack) > 0 && stack[len(stack)-1].level >= heading.Level {
			stack = stack[:len(stack)-1]
		}
		var ancestorNames []string
		for _, s := range stack {
			ancestorNames = append(ancestorNames, s.headingChain[len(s.headingChain)-1])
		}
		ancestorNames = append(ancestorNames, headingText)

		endOfHeadingLine := startOffset
		if lines_.Len() > 0 {
			endOfHeadingLine = lines_.At(lines_.Len() - 1).Stop
		}
		stack = append(stack, section{headingChain: ancestorNames, level: heading.Level, startLine: endOfHeadingLine})
		lastHeadingEnd = endOfHeadingLine
		return ast.WalkSkipChildren, nil
	})
	flush(len(reader))

	return chunks
}

func textNewReader(src []byte) text.Reader {
	return text.NewReader(src)
}

func extractText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(b.String())
}

func stripFrontMatter(s string) string {
	if !strings.HasPrefix(s, "---\n") && !strings.HasPrefix(s, "---\r\n") {
		return s
	}
	rest := s[4:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return s
	}
	end := strings.IndexByte(rest[idx+1:], '\n')
	if end < 0 {
		return ""
	}
	return rest[idx+1+end+1:]
}

func splitLinesKeepingOffsets(data []byte) []int {
	offsets := []int{0}
	for i, c := range data {
		if c == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

func lineRange(offsets []int, start, end int) (int, int) {
	startLine, endLine := 1, 1
	for i, off := range offsets {
		if off <= start {
			startLine = i + 1
		}
		if off <= end {
			endLine = i + 1
		}
	}
	return startLine, endLine
}

// ChunkCode splits a code file into symbol-scoped chunks when language has a
// parser, otherwise fixed-size overlapping spans (spec.md §4.5).
func ChunkCode(filePath, language, text string) []Chunked {
	lines := strings.Split(text, "\n")

	if symbols.SupportedLanguages[language] {
		if parsed, err := symbols.ParseFile(language, filePath, []byte(text)); err == nil && len(parsed.Symbols) > 0 {
			var chunks []Chunked
			for i, sym := range parsed.Symbols {
				start := clamp(sym.Span.StartLine, 1, len(lines))
				end := clamp(sym.Span.EndLine, start, len(lines))
				chunkText := strings.Join(lines[start-1:end], "\n")
				id := fmt.Sprintf("%s#code:%d", filePath, i)
				chunks = append(chunks, Chunked{
					Chunk: graph.Chunk{
						ID: id, File: filePath, Kind: graph.ChunkKindCode, Symbol: sym.Name,
						Span: graph.Span{StartLine: start, EndLine: end}, Length: len(chunkText),
					},
					Text: chunkText,
				})
			}
			return chunks
		}
	}

	return chunkBySpan(filePath, lines)
}

func chunkBySpan(filePath string, lines []string) []Chunked {
	var chunks []Chunked
	ordinal := 0
	step := SpanLines - SpanOverlap
	if step <= 0 {
		step = SpanLines
	}
	for start := 0; start < len(lines); start += step {
		end := clamp(start+SpanLines, 1, len(lines))
		chunkText := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(chunkText) == "" {
			if end >= len(lines) {
				break
			}
			continue
		}
		id := fmt.Sprintf("%s#code:%d", filePath, ordinal)
		ordinal++
		chunks = append(chunks, Chunked{
			Chunk: graph.Chunk{ID: id, File: filePath, Kind: graph.ChunkKindCode, Span: graph.Span{StartLine: start + 1, EndLine: end}, Length: len(chunkText)},
			Text:  chunkText,
		})
		if end >= len(lines) {
			break
		}
	}
	return chunks
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WriteChunks batches Chunk node upserts together with both PART_OF and
// CONTAINS_CHUNK edges in the same batch (spec.md §4.5, invariant 1), plus
// fulltext indexing for each chunk's text.
func WriteChunks(store *graphstore.Store, chunks []Chunked, result *Result) error {
	if len(chunks) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryChunk, "WriteChunks")
	defer timer.Stop()

	var nodeRows []graphstore.NodeRow
	var partOf []graphstore.EdgeRow
	var containsChunk []graphstore.EdgeRow
	for _, c := range chunks {
		nodeRows = append(nodeRows, graphstore.NodeRow{Key: c.Chunk.ID, Props: c.Chunk})
		partOf = append(partOf, graphstore.EdgeRow{SubjectKind: graph.NodeChunk, SubjectKey: c.Chunk.ID, ObjectKind: graph.NodeFile, ObjectKey: c.Chunk.File})
		containsChunk = append(containsChunk, graphstore.EdgeRow{SubjectKind: graph.NodeFile, SubjectKey: c.Chunk.File, ObjectKind: graph.NodeChunk, ObjectKey: c.Chunk.ID})
	}

	if err := store.BatchUpsertNodes(graph.NodeChunk, nodeRows); err != nil {
		return err
	}
	if err := store.BatchUpsertEdges(graph.EdgePartOf, partOf); err != nil {
		return err
	}
	if err := store.BatchUpsertEdges(graph.EdgeContainsChunk, containsChunk); err != nil {
		return err
	}
	for _, c := range chunks {
		if err := store.IndexChunkText(c.Chunk.ID, c.Text); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	result.ChunksCreated += len(chunks)
	return nil
}
