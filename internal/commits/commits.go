// Package commits is the Commit Ingestor (C4): reads git history with
// --name-status semantics, upserts Commit/Author/TOUCHED nodes and edges in
// batches, and maintains the NEXT_COMMIT/PREV_COMMIT chain along first-parent
// lineage. Grounded on the teacher's internal/world/git_scanner.go (git log
// via os/exec, streaming line parser) generalized from churn facts into the
// typed graph.Commit/TouchedEdge model.
package commits

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/kgerrors"
	"kgingest/internal/logging"
)

const recordSep = "\x1f" // unit separator, never appears in commit metadata
const commitMarker = "@@COMMIT@@"

// RawCommit is one parsed git log record before graph conversion.
type RawCommit struct {
	Hash        string
	Parents     []string
	AuthorEmail string
	AuthorName  string
	Timestamp   time.Time
	Message     string
	Changes     []FileChange
}

// FileChange is one --name-status entry for a commit.
type FileChange struct {
	Status  graph.TouchStatus
	Path    string
	OldPath string // set for renamed/copied
}

// Result is the summary C4 returns to the orchestrator.
type Result struct {
	CommitCount int
	LatestHash  string
	Errors      []string
}

// Options configures an ingestion pass.
type Options struct {
	BatchSize  int    // commits per write transaction, default 200
	Since      string // only commits after this hash are ingested ("" = all history)
	MaxWorkers int    // bounded batch-write concurrency, default 1 (sequential)
}

// Ingest reads git history for repoRoot and writes it to store.
func Ingest(ctx context.Context, store *graphstore.Store, repoRoot string, opts Options) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryCommits, "Ingest")
	defer timer.Stop()

	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}

	raws, err := readGitLog(ctx, repoRoot, opts.Since)
	if err != nil {
		return nil, kgerrors.PerStage("commits", "git log failed", err)
	}

	// Batches are disjoint commit ranges, so a bounded pool can write them
	// concurrently (spec.md §5); the store serializes the actual transactions.
	result := &Result{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxWorkers)
	for batchStart := 0; batchStart < len(raws); batchStart += opts.BatchSize {
		batchStart := batchStart
		end := min(batchStart+opts.BatchSize, len(raws))
		batch := raws[batchStart:end]
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			berr := writeBatch(store, batch)
			mu.Lock()
			defer mu.Unlock()
			if berr != nil {
				result.Errors = append(result.Errors, berr.Error())
				logging.Get(logging.CategoryCommits).Warn("batch write failed: %v", berr)
			}
			result.CommitCount += len(batch)
			return nil
		})
	}
	if gerr := g.Wait(); gerr != nil {
		return result, gerr
	}

	if len(raws) > 0 {
		result.LatestHash = raws[0].Hash // git log is newest-first
	}

	if err := linkChain(store, raws); err != nil {
		return result, kgerrors.Invariant("commits", "NEXT_COMMIT chronological ordering", err)
	}

	logging.Get(logging.CategoryCommits).Info("ingested %d commits, latest=%s", result.CommitCount, result.LatestHash)
	return result, nil
}

func writeBatch(store *graphstore.Store, batch []RawCommit) error {
	commitRows := make([]graphstore.NodeRow, 0, len(batch))
	authorRows := make([]graphstore.NodeRow, 0, len(batch))
	touchedRows := make([]graphstore.EdgeRow, 0, len(batch)*4)
	authoredByRows := make([]graphstore.EdgeRow, 0, len(batch))
	seenAuthors := make(map[string]bool)

	for _, c := range batch {
		commitRows = append(commitRows, graphstore.NodeRow{
			Key: c.Hash,
			Props: graph.Commit{
				Hash: c.Hash, Timestamp: c.Timestamp, AuthorEmail: c.AuthorEmail,
				AuthorName: c.AuthorName, Message: c.Message, Parents: c.Parents,
			},
		})
		if !seenAuthors[c.AuthorEmail] {
			seenAuthors[c.AuthorEmail] = true
			authorRows = append(authorRows, graphstore.NodeRow{
				Key:   c.AuthorEmail,
				Props: graph.Author{Email: c.AuthorEmail, DisplayName: c.AuthorName},
			})
		}
		authoredByRows = append(authoredByRows, graphstore.EdgeRow{
			SubjectKind: graph.NodeCommit, SubjectKey: c.Hash,
			ObjectKind: graph.NodeAuthor, ObjectKey: c.AuthorEmail,
		})
		for _, ch := range c.Changes {
			props := map[string]any{"status": ch.Status}
			if ch.OldPath != "" {
				props["old_path"] = ch.OldPath
			}
			ts := c.Timestamp
			touchedRows = append(touchedRows, graphstore.EdgeRow{
				SubjectKind: graph.NodeCommit, SubjectKey: c.Hash,
				ObjectKind: graph.NodeFile, ObjectKey: ch.Path,
				Props: props, Timestamp: &ts,
			})
		}
	}

	if err := store.BatchUpsertNodes(graph.NodeAuthor, authorRows); err != nil {
		return err
	}
	if err := store.BatchUpsertNodes(graph.NodeCommit, commitRows); err != nil {
		return err
	}
	if err := store.BatchUpsertEdges(graph.EdgeAuthoredBy, authoredByRows); err != nil {
		return err
	}
	return store.BatchUpsertEdges(graph.EdgeTouched, touchedRows)
}

// pipelineStateKey is the single PipelineState row's key: one ingestion run
// produces one upper-bound watermark, not one per file (mirrors derive's
// DerivationWatermark singleton).
const pipelineStateKey = "singleton"

// WritePipelineState upserts the singleton PipelineState node recording the
// newest ingested commit hash as later stages' and later runs' temporal
// upper bound (spec.md §4.4).
func WritePipelineState(store *graphstore.Store, latestHash, profile string, runAt time.Time) error {
	row := graphstore.NodeRow{
		Key:   pipelineStateKey,
		Props: graph.PipelineState{LatestCommitHash: latestHash, LastRunAt: runAt, LastProfile: profile},
	}
	return store.BatchUpsertNodes(graph.NodePipelineState, []graphstore.NodeRow{row})
}

// linkChain recomputes NEXT_COMMIT/PREV_COMMIT along first-parent lineage as
// a post-step over the full commit set (spec.md §4.4). raws is newest-first.
func linkChain(store *graphstore.Store, raws []RawCommit) error {
	var rows []graphstore.EdgeRow
	for i := 0; i < len(raws); i++ {
		newer := raws[i]
		if len(newer.Parents) == 0 {
			continue
		}
		firstParent := newer.Parents[0]
		rows = append(rows,
			graphstore.EdgeRow{SubjectKind: graph.NodeCommit, SubjectKey: firstParent, ObjectKind: graph.NodeCommit, ObjectKey: newer.Hash},
		)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := store.BatchUpsertEdges(graph.EdgeNextCommit, rows); err != nil {
		return err
	}
	reversed := make([]graphstore.EdgeRow, len(rows))
	for i, r := range rows {
		reversed[i] = graphstore.EdgeRow{SubjectKind: graph.NodeCommit, SubjectKey: r.ObjectKey, ObjectKind: graph.NodeCommit, ObjectKey: r.SubjectKey}
	}
	return store.BatchUpsertEdges(graph.EdgePrevCommit, reversed)
}

// ListCommits returns parsed commit records without writing them to the
// store, for stages (derivation, cross-referencing) that need commit
// message/file-touch data without re-running the ingestor.
func ListCommits(ctx context.Context, repoRoot, since string) ([]RawCommit, error) {
	return readGitLog(ctx, repoRoot, since)
}

func readGitLog(ctx context.Context, root, since string) ([]RawCommit, error) {
	format := commitMarker + "%H" + recordSep + "%P" + recordSep + "%ae" + recordSep + "%an" + recordSep + "%at" + recordSep + "%s"
	args := []string{"-C", root, "log", "--name-status", "-M", "--pretty=format:" + format}
	if since != "" {
		args = append(args, since+"..HEAD")
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		if since != "" {
			return nil, nil // since-ref unknown/unreachable: treat as empty delta, not fatal
		}
		return nil, err
	}
	return parseGitLog(out.String())
}

func parseGitLog(output string) ([]RawCommit, error) {
	var commits []RawCommit
	var current *RawCommit

	scanner := bufio.NewScanner(bytes.NewReader([]byte(output)))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, commitMarker) {
			if current != nil {
				commits = append(commits, *current)
			}
			fields := strings.Split(strings.TrimPrefix(line, commitMarker), recordSep)
			if len(fields) < 6 {
				continue
			}
			ts, _ := strconv.ParseInt(fields[4], 10, 64)
			var parents []string
			if fields[1] != "" {
				parents = strings.Fields(fields[1])
			}
			current = &RawCommit{
				Hash: fields[0], Parents: parents, AuthorEmail: fields[2],
				AuthorName: fields[3], Timestamp: time.Unix(ts, 0).UTC(), Message: fields[5],
			}
			continue
		}
		if current == nil || strings.TrimSpace(line) == "" {
			continue
		}
		change := parseNameStatusLine(line)
		if change != nil {
			current.Changes = append(current.Changes, *change)
		}
	}
	if current != nil {
		commits = append(commits, *current)
	}
	return commits, scanner.Err()
}

func parseNameStatusLine(line string) *FileChange {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		return nil
	}
	statusCode := fields[0]
	status := statusFromCode(statusCode)

	if (statusCode[0] == 'R' || statusCode[0] == 'C') && len(fields) >= 3 {
		return &FileChange{Status: status, OldPath: fields[1], Path: fields[2]}
	}
	return &FileChange{Status: status, Path: fields[1]}
}

func statusFromCode(code string) graph.TouchStatus {
	switch code[0] {
	case 'A':
		return graph.TouchAdded
	case 'M':
		return graph.TouchModified
	case 'D':
		return graph.TouchDeleted
	case 'R':
		return graph.TouchRenamed
	case 'C':
		return graph.TouchCopied
	default:
		return graph.TouchModified
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
