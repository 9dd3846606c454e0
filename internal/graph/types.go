// Package graph defines the typed property-graph vocabulary shared by every
// pipeline stage: node kinds, edge kinds, and the Go structs that replace the
// teacher's ad-hoc fact/map shapes with explicit tagged variants.
package graph

import "time"

// NodeKind tags the label of a graph node.
type NodeKind string

const (
	NodeCommit             NodeKind = "Commit"
	NodeFile               NodeKind = "File"
	NodeChunk              NodeKind = "Chunk"
	NodeDocument           NodeKind = "Document"
	NodeSymbol             NodeKind = "Symbol"
	NodeLibrary            NodeKind = "Library"
	NodeRequirement        NodeKind = "Requirement"
	NodeSprint             NodeKind = "Sprint"
	NodeAuthor             NodeKind = "Author"
	NodeDerivationWatermark NodeKind = "DerivationWatermark"
	NodePipelineState      NodeKind = "PipelineState"
)

// EdgeKind tags the relationship type of a graph edge.
type EdgeKind string

const (
	EdgePartOf         EdgeKind = "PART_OF"
	EdgeContainsChunk  EdgeKind = "CONTAINS_CHUNK"
	EdgeDefinedIn      EdgeKind = "DEFINED_IN"
	EdgeContainsDoc    EdgeKind = "CONTAINS_DOC"
	EdgeIncludes       EdgeKind = "INCLUDES"
	EdgeTouched        EdgeKind = "TOUCHED"
	EdgeNextCommit     EdgeKind = "NEXT_COMMIT"
	EdgePrevCommit     EdgeKind = "PREV_COMMIT"
	EdgeInvolvesFile   EdgeKind = "INVOLVES_FILE"
	EdgeMentionsSymbol EdgeKind = "MENTIONS_SYMBOL"
	EdgeMentionsLibrary EdgeKind = "MENTIONS_LIBRARY"
	EdgeMentionsFile   EdgeKind = "MENTIONS_FILE"
	EdgeMentionsCommit EdgeKind = "MENTIONS_COMMIT"
	EdgeUsesLibrary    EdgeKind = "USES_LIBRARY"
	EdgeImports        EdgeKind = "IMPORTS"
	EdgeCoOccursWith   EdgeKind = "CO_OCCURS_WITH"
	EdgeImplements     EdgeKind = "IMPLEMENTS"
	EdgeEvolvesFrom    EdgeKind = "EVOLVES_FROM"
	EdgeDependsOn      EdgeKind = "DEPENDS_ON"
	EdgeRelatesTo      EdgeKind = "RELATES_TO"
	EdgeAuthoredBy     EdgeKind = "AUTHORED_BY"
)

// FileKind classifies a File node by content (spec.md §4.2).
type FileKind string

const (
	FileKindCode   FileKind = "code"
	FileKindDoc    FileKind = "doc"
	FileKindConfig FileKind = "config"
	FileKindData   FileKind = "data"
	FileKindOther  FileKind = "other"
)

// ChunkKind classifies a Chunk node (spec.md §3 invariant 2).
type ChunkKind string

const (
	ChunkKindDoc  ChunkKind = "doc"
	ChunkKindCode ChunkKind = "code"
)

// SymbolKind classifies a Symbol node.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolMethod    SymbolKind = "method"
	SymbolClass     SymbolKind = "class"
	SymbolInterface SymbolKind = "interface"
)

// LibrarySource records where a Library node's existence was first observed.
type LibrarySource string

const (
	LibrarySourceManifest   LibrarySource = "manifest"
	LibrarySourceDiscovered LibrarySource = "discovered"
)

// TouchStatus is the per-file change status recorded on a TOUCHED edge.
type TouchStatus string

const (
	TouchAdded    TouchStatus = "added"
	TouchModified TouchStatus = "modified"
	TouchRenamed  TouchStatus = "renamed"
	TouchDeleted  TouchStatus = "deleted"
	TouchCopied   TouchStatus = "copied"
)

// RequirementOrigin records how a Requirement node was discovered.
type RequirementOrigin string

const (
	RequirementOriginDoc           RequirementOrigin = "doc"
	RequirementOriginCommitMessage RequirementOrigin = "commit-message"
)

// Span is an inclusive 1-indexed line range.
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Decoding records how a File's bytes were turned into text (spec.md §4.2).
type Decoding struct {
	Encoding         string `json:"encoding"`
	FallbackUsed     bool   `json:"fallback_used"`
	ReplacementChars int    `json:"replacement_chars"`
}

// Commit is the VCS commit node. Immutable once created.
type Commit struct {
	Hash        string    `json:"hash"`
	Timestamp   time.Time `json:"timestamp"`
	AuthorEmail string    `json:"author_email"`
	AuthorName  string    `json:"author_name"`
	Message     string    `json:"message"`
	Parents     []string  `json:"parents"`
}

// File is a repo-relative POSIX-path node.
type File struct {
	Path        string   `json:"path"`
	Language    string   `json:"language"`
	Kind        FileKind `json:"kind"`
	Decoding    Decoding `json:"decoding"`
	Size        int64    `json:"size"`
	MTime       float64  `json:"mtime"`
	ContentHash string   `json:"content_hash"`
}

// Chunk is a heading- or symbol-scoped slice of a File's text.
type Chunk struct {
	ID      string    `json:"id"`
	File    string    `json:"file"`
	Text    string    `json:"text"`
	Kind    ChunkKind `json:"kind"`
	Heading string    `json:"heading,omitempty"`
	Symbol  string     `json:"symbol,omitempty"`
	Span    Span      `json:"span"`
	Length  int       `json:"length"`
}

// Symbol is a parsed code construct (function, method, class, interface).
type Symbol struct {
	UID      string     `json:"uid"`
	Name     string     `json:"name"`
	Kind     SymbolKind `json:"kind"`
	Language string     `json:"language"`
	File     string     `json:"file"`
	Span     Span       `json:"span"`
}

// Library is a canonical, slug-deduplicated dependency node.
type Library struct {
	Slug        string        `json:"slug"`
	DisplayName string        `json:"display_name"`
	Ecosystem   string        `json:"ecosystem"`
	Version     string        `json:"version"`
	Source      LibrarySource `json:"source"`
	Aliases     []string      `json:"aliases"`
}

// Requirement is a tracked work item referenced by docs or commit messages.
type Requirement struct {
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Origin RequirementOrigin `json:"origin"`
}

// Sprint is a planning-document-derived time window.
type Sprint struct {
	Number int       `json:"number"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Author is the committer identity referenced by Commit.AuthorEmail.
type Author struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// PipelineState is the singleton node recording the temporal upper bound
// later stages and later runs use instead of re-scanning git history
// (spec.md §4.4). One row ever exists, keyed by a fixed singleton key.
type PipelineState struct {
	LatestCommitHash string    `json:"latest_commit_hash"`
	LastRunAt        time.Time `json:"last_run_at"`
	LastProfile      string    `json:"last_profile"`
}

// TouchedEdge is a Commit->File temporal edge.
type TouchedEdge struct {
	CommitHash string      `json:"commit_hash"`
	FilePath   string      `json:"file_path"`
	Status     TouchStatus `json:"status"`
	OldPath    string      `json:"old_path,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	CreatedAt  time.Time   `json:"created_at"`
}

// DerivedEdge carries the provenance fields common to every C8-derived edge.
type DerivedEdge struct {
	Kind       EdgeKind  `json:"kind"`
	Subject    string    `json:"subject"`
	Object     string    `json:"object"`
	Sources    []string  `json:"sources"`
	Confidence float64   `json:"confidence"`
	FirstSeen  time.Time `json:"first_seen_ts"`
	LastSeen   time.Time `json:"last_seen_ts"`
	Provenance string    `json:"provenance"`
	CreatedAt  time.Time `json:"created_at"`
}

// ISO8601 formats a timestamp the way every temporal edge must be stored:
// with an explicit timezone offset, never a naive concatenation (spec.md §4.7).
func ISO8601(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseISO8601 parses a timestamp stored by ISO8601, rejecting naive
// (timezone-less) strings per invariant 4.
func ParseISO8601(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
