package orchestrator

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kgingest/internal/chunk"
	"kgingest/internal/commits"
	"kgingest/internal/derive"
	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/kgerrors"
	"kgingest/internal/logging"
	"kgingest/internal/manifest"
	"kgingest/internal/scan"
	"kgingest/internal/sprint"
	"kgingest/internal/symbols"
	"kgingest/internal/xref"
)

// stageRunner executes one stage's work and returns telemetry counters plus
// any non-fatal errors it accumulated.
type stageRunner func(ctx context.Context) (counters map[string]int, errs []string, err error)

// runStage wraps one stage with timing/telemetry bookkeeping and the
// strict-abort decision (spec.md §4.10: per-stage errors are non-fatal
// unless Strict, invariant errors always abort).
func runStage(ctx context.Context, job *Job, name string, strict bool, fn stageRunner) error {
	st := StageTelemetry{Stage: name, StartedAt: time.Now()}
	counters, errs, err := fn(ctx)
	st.EndedAt = time.Now()
	st.DurationMS = st.EndedAt.Sub(st.StartedAt).Milliseconds()
	st.Counters = counters
	st.Errors = boundErrors(errs)
	job.Stages = append(job.Stages, st)

	logging.Get(logging.CategoryOrchestrator).Info("stage %s done in %dms (errors=%d)", name, st.DurationMS, len(errs))

	if err != nil && kgerrors.IsFatal(err) {
		return err
	}
	if err != nil && strict {
		return kgerrors.PerStage(name, "stage failed under strict mode", err)
	}
	return nil
}

// runPipeline executes C2-C9 in the happens-before order spec.md §5
// requires: scan/manifest -> commits -> chunk -> symbols -> sprint (needs
// commit timestamps) -> xref (needs symbols written first) -> derive (needs
// commit/doc/symbol evidence) -> manifest save. Each stage observes ctx.Done() between its batches so Stop()
// converges promptly without leaving a half-written batch.
func runPipeline(ctx context.Context, store *graphstore.Store, repoRoot, storeDir string, maxWorkers int, job *Job) error {
	opts := job.Options
	profile := manifest.Profile(opts.Profile)
	if profile == "" {
		profile = manifest.ProfileDelta
	}

	if opts.ResetGraph {
		if err := runStage(ctx, job, "reset", opts.Strict, func(context.Context) (map[string]int, []string, error) {
			return nil, nil, store.Reset()
		}); err != nil {
			return err
		}
	}

	manifestPath := manifest.Path(storeDir)
	prevManifest, err := manifest.Load(manifestPath)
	if err != nil {
		return kgerrors.Invariant("manifest", "manifest readable", err)
	}

	var inventory *scan.FileInventory
	if err := runStage(ctx, job, "scan", opts.Strict, func(context.Context) (map[string]int, []string, error) {
		inv, serr := scan.New(repoRoot).Scan(scan.Options{Subpath: opts.Scope})
		if serr != nil {
			return nil, nil, serr
		}
		inventory = inv
		var skipped []string
		for _, s := range inv.Skipped {
			skipped = append(skipped, s.Path+": "+s.Reason)
		}
		return map[string]int{"files_found": len(inv.Files), "skipped": len(inv.Skipped)}, skipped, nil
	}); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if inventory == nil {
		return kgerrors.Invariant("scan", "file inventory produced", nil)
	}

	var plan *manifest.DeltaPlan
	if err := runStage(ctx, job, "delta", opts.Strict, func(context.Context) (map[string]int, []string, error) {
		p, derr := manifest.ComputeDelta(prevManifest, inventory, profile, func(f scan.FileRecord) (string, error) {
			return scan.ContentHash(f.AbsPath)
		})
		if derr != nil {
			return nil, nil, derr
		}
		plan = p
		return map[string]int{"added": len(p.Added), "modified": len(p.Modified), "deleted": len(p.Deleted), "unchanged": len(p.Unchanged)}, nil, nil
	}); err != nil {
		return err
	}
	if plan == nil {
		return kgerrors.Invariant("delta", "delta plan produced", nil)
	}

	touched := append(append([]scan.FileRecord{}, plan.Added...), plan.Modified...)
	entries := make(map[string]manifest.FileEntry, len(touched))
	readCache := make(map[string][]byte, len(touched))
	var readErrors []string

	if err := runStage(ctx, job, "write_files", opts.Strict, func(ctx context.Context) (map[string]int, []string, error) {
		// Reading and hashing each file is independent work, so a bounded pool
		// of workers fans out over touched (spec.md §5); the batched node
		// write below is the single serialization point.
		type readOutcome struct {
			text []byte
			hash string
			dec  graph.Decoding
			err  error
		}
		results := make([]readOutcome, len(touched))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)
		for i, f := range touched {
			i, f := i, f
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				res, rerr := scan.ReadText(f.AbsPath)
				if rerr != nil {
					results[i] = readOutcome{err: rerr}
					return nil
				}
				hash, _ := scan.ContentHash(f.AbsPath)
				results[i] = readOutcome{text: []byte(res.Text), hash: hash, dec: res.Decoding}
				return nil
			})
		}
		groupErr := g.Wait()

		var nodeRows []graphstore.NodeRow
		for i, f := range touched {
			r := results[i]
			if r.err != nil {
				readErrors = append(readErrors, f.Path+": "+r.err.Error())
				continue
			}
			if r.text == nil && r.hash == "" {
				continue // cancelled before this worker ran
			}
			readCache[f.Path] = r.text
			entries[f.Path] = manifest.FileEntry{Size: f.Size, MTime: f.MTime, ContentHash: r.hash, Encoding: r.dec.Encoding, FallbackUsed: r.dec.FallbackUsed}
			nodeRows = append(nodeRows, graphstore.NodeRow{
				Key:   f.Path,
				Props: graph.File{Path: f.Path, Language: f.Language, Kind: f.Kind, Decoding: r.dec, Size: f.Size, MTime: f.MTime, ContentHash: r.hash},
			})
		}
		if len(nodeRows) > 0 {
			if werr := store.BatchUpsertNodes(graph.NodeFile, nodeRows); werr != nil {
				return map[string]int{"written": 0}, readErrors, werr
			}
			// File path is its own searchable entity_fts text; indexed here,
			// the one place a File node is (re)written for this delta.
			for _, row := range nodeRows {
				if ierr := store.IndexEntityText(string(graph.NodeFile), row.Key, row.Key); ierr != nil {
					readErrors = append(readErrors, row.Key+": "+ierr.Error())
				}
			}
		}
		return map[string]int{"written": len(nodeRows)}, readErrors, groupErr
	}); err != nil {
		return err
	}

	if len(plan.Deleted) > 0 {
		if err := runStage(ctx, job, "cleanup", opts.Strict, func(context.Context) (map[string]int, []string, error) {
			var chunkIDs []string
			for _, deletedPath := range plan.Deleted {
				ids, qerr := store.EdgeObjectKeys(graph.EdgeContainsChunk, graph.NodeFile, deletedPath)
				if qerr == nil {
					chunkIDs = append(chunkIDs, ids...)
				}
			}
			if len(chunkIDs) > 0 {
				if derr := store.DeleteNodes(graph.NodeChunk, chunkIDs); derr != nil {
					return nil, nil, derr
				}
			}
			if derr := store.DeleteNodes(graph.NodeFile, plan.Deleted); derr != nil {
				return nil, nil, derr
			}
			return map[string]int{"files_deleted": len(plan.Deleted), "chunks_deleted": len(chunkIDs)}, nil, nil
		}); err != nil {
			return err
		}
	}

	var commitResult *commits.Result
	var rawCommits []commits.RawCommit
	if err := runStage(ctx, job, "commits", opts.Strict, func(ctx context.Context) (map[string]int, []string, error) {
		since := opts.Since
		if since == "" {
			since = prevManifest.LastIngestedCommit
		}
		res, cerr := commits.Ingest(ctx, store, repoRoot, commits.Options{Since: since, MaxWorkers: maxWorkers})
		if cerr != nil {
			return nil, nil, cerr
		}
		commitResult = res
		raws, lerr := commits.ListCommits(ctx, repoRoot, since)
		if lerr == nil {
			rawCommits = raws
		}
		return map[string]int{"commits_ingested": res.CommitCount}, res.Errors, nil
	}); err != nil {
		return err
	}

	var chunked []chunk.Chunked
	if err := runStage(ctx, job, "chunk", opts.Strict, func(ctx context.Context) (map[string]int, []string, error) {
		result := &chunk.Result{}
		var mu sync.Mutex // guards result and chunked; store writes serialize through it too
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)
		for _, f := range touched {
			f := f
			text, ok := readCache[f.Path]
			if !ok {
				continue
			}
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				var cs []chunk.Chunked
				if f.Kind == graph.FileKindDoc {
					cs = chunk.ChunkDocument(f.Path, string(text))
				} else if f.Kind == graph.FileKindCode {
					cs = chunk.ChunkCode(f.Path, f.Language, string(text))
				} else {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				chunked = append(chunked, cs...)
				if werr := chunk.WriteChunks(store, cs, result); werr != nil {
					result.Errors = append(result.Errors, werr.Error())
				}
				return nil
			})
		}
		groupErr := g.Wait()
		return map[string]int{"chunks": result.ChunksCreated}, result.Errors, groupErr
	}); err != nil {
		return err
	}

	moduleIndex := make(map[string]string, len(inventory.Files))
	for _, f := range inventory.Files {
		moduleIndex[f.Path] = f.Path
		withoutExt := strings.TrimSuffix(f.Path, path.Ext(f.Path))
		moduleIndex[withoutExt] = f.Path
	}

	if err := runStage(ctx, job, "symbols", opts.Strict, func(ctx context.Context) (map[string]int, []string, error) {
		// Each worker parses its own file into a private Result (ParseFile's
		// tree-sitter work is the expensive part); merging is a cheap,
		// sequential pass once every worker has returned. Store writes inside
		// ExtractFile still serialize through the store's own mutex.
		perFile := make([]*symbols.Result, len(touched))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)
		for i, f := range touched {
			i, f := i, f
			text, ok := readCache[f.Path]
			if !ok {
				continue
			}
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				r := &symbols.Result{}
				symbols.ExtractFile(store, f, text, moduleIndex, r)
				perFile[i] = r
				return nil
			})
		}
		groupErr := g.Wait()

		result := &symbols.Result{}
		for _, r := range perFile {
			if r == nil {
				continue
			}
			result.SymbolsCreated += r.SymbolsCreated
			result.LibrariesCreated += r.LibrariesCreated
			result.ImportEdges += r.ImportEdges
			result.ParseErrors = append(result.ParseErrors, r.ParseErrors...)
			result.ManifestErrors = append(result.ManifestErrors, r.ManifestErrors...)
		}
		symbols.SeedManifests(store, touched, func(f scan.FileRecord) ([]byte, error) {
			if text, ok := readCache[f.Path]; ok {
				return text, nil
			}
			return scan.ReadText(f.AbsPath)
		}, result)
		return map[string]int{"symbols": result.SymbolsCreated, "libraries": result.LibrariesCreated, "imports": result.ImportEdges},
			append(result.ParseErrors, result.ManifestErrors...), groupErr
	}); err != nil {
		return err
	}

	if err := runStage(ctx, job, "sprint", opts.Strict, func(context.Context) (map[string]int, []string, error) {
		var errs []string
		sprintsWritten := 0
		for _, f := range touched {
			if f.Kind != graph.FileKindDoc {
				continue
			}
			text, ok := readCache[f.Path]
			if !ok {
				continue
			}
			sp, found := sprint.ParseSprintDoc(f.Path, string(text))
			if !found {
				continue
			}
			var inWindow []string
			for _, c := range rawCommits {
				if !c.Timestamp.Before(sp.Start) && !c.Timestamp.After(sp.End) {
					inWindow = append(inWindow, c.Hash)
				}
			}
			folder := path.Dir(f.Path)
			var docsInFolder []string
			for _, other := range inventory.Files {
				if other.Kind == graph.FileKindDoc && path.Dir(other.Path) == folder {
					docsInFolder = append(docsInFolder, other.Path)
				}
			}
			if werr := sprint.WriteSprint(store, *sp, f.Path, inWindow, docsInFolder); werr != nil {
				errs = append(errs, werr.Error())
				continue
			}
			if werr := sprint.RollupInvolvesFile(store, sp.Number, inWindow); werr != nil {
				errs = append(errs, werr.Error())
				continue
			}
			sprintsWritten++
		}
		return map[string]int{"sprints_written": sprintsWritten}, errs, nil
	}); err != nil {
		return err
	}

	if err := runStage(ctx, job, "xref", opts.Strict, func(ctx context.Context) (map[string]int, []string, error) {
		return runXref(ctx, store, chunked, rawCommits, maxWorkers)
	}); err != nil {
		return err
	}

	if err := runStage(ctx, job, "derive", opts.Strict, func(context.Context) (map[string]int, []string, error) {
		return runDerive(store, rawCommits, chunked)
	}); err != nil {
		return err
	}

	if err := runStage(ctx, job, "save_manifest", opts.Strict, func(context.Context) (map[string]int, []string, error) {
		latest := prevManifest.LastIngestedCommit
		if commitResult != nil && commitResult.LatestHash != "" {
			latest = commitResult.LatestHash
		}
		prevManifest.Update(plan, entries, latest, repoRoot)
		if serr := prevManifest.Save(); serr != nil {
			return nil, nil, serr
		}
		return nil, nil, commits.WritePipelineState(store, latest, string(profile), time.Now())
	}); err != nil {
		return err
	}

	return nil
}

func runXref(ctx context.Context, store *graphstore.Store, chunked []chunk.Chunked, rawCommits []commits.RawCommit, maxWorkers int) (map[string]int, []string, error) {
	var records []xref.ChunkRecord
	for _, c := range chunked {
		records = append(records, xref.ChunkRecord{ID: c.Chunk.ID, Text: c.Text})
	}

	symbolKeys, _ := store.NodeKeys(graph.NodeSymbol)
	var symbolRefs []xref.SymbolRef
	for _, uid := range symbolKeys {
		name := uid
		if idx := strings.Index(uid, "#"); idx >= 0 {
			name = uid[idx+1:]
			if c := strings.LastIndex(name, ":"); c >= 0 {
				name = name[:c]
			}
		}
		symbolRefs = append(symbolRefs, xref.SymbolRef{UID: uid, Name: name})
	}

	libKeys, _ := store.NodeKeys(graph.NodeLibrary)
	var libRefs []xref.LibraryRef
	for _, slug := range libKeys {
		ref := xref.LibraryRef{Slug: slug, DisplayName: slug}
		if raw, found, err := store.GetNodeProps(graph.NodeLibrary, slug); err == nil && found {
			var lib graph.Library
			if json.Unmarshal(raw, &lib) == nil && lib.DisplayName != "" {
				ref = xref.LibraryRef{Slug: slug, DisplayName: lib.DisplayName, Aliases: lib.Aliases}
			}
		}
		libRefs = append(libRefs, ref)
	}

	filePaths, _ := store.NodeKeys(graph.NodeFile)

	knownHashes := make(map[string]string, len(rawCommits))
	for _, c := range rawCommits {
		short := c.Hash
		if len(short) > 7 {
			short = short[:7]
		}
		knownHashes[c.Hash] = short
	}

	// Symbol and commit mentions are exact-token matches against in-memory
	// chunk text, so each chunk batch sweeps and writes its own edges
	// independent of every other batch and a bounded pool runs them
	// concurrently (spec.md §5); each worker accumulates into its own Result,
	// merged below. Library and file mentions are an fts5 sweep over
	// chunk_fts (spec.md §4.9's fulltext sweep) instead: one MATCH query per
	// known entity beats a per-chunk substring scan, so they run as a second
	// bounded pool keyed by entity rather than by chunk batch.
	batches := xref.BatchChunks(records)
	perBatch := make([]*xref.Result, len(batches))
	perBatchEntities := make([]map[string][]xref.EntityRef, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			r := &xref.Result{}
			entities := make(map[string][]xref.EntityRef)
			symbolMentions := xref.SweepMentionsSymbol(batch, symbolRefs, xref.DefaultMentionsPerChunk)
			if werr := xref.WriteMentions(store, graph.EdgeMentionsSymbol, graph.NodeSymbol, symbolMentions, r); werr != nil {
				r.Errors = append(r.Errors, werr.Error())
			}
			addEntityRefs(entities, symbolMentions, graph.NodeSymbol)
			commitMentions := xref.SweepMentionsCommit(batch, knownHashes)
			if werr := xref.WriteMentions(store, graph.EdgeMentionsCommit, graph.NodeCommit, commitMentions, r); werr != nil {
				r.Errors = append(r.Errors, werr.Error())
			}
			addEntityRefs(entities, commitMentions, graph.NodeCommit)
			perBatch[i] = r
			perBatchEntities[i] = entities
			return nil
		})
	}
	groupErr := g.Wait()

	result := &xref.Result{}
	combinedEntities := make(map[string][]xref.EntityRef)
	for _, r := range perBatch {
		if r == nil {
			continue
		}
		result.MentionsSymbolCreated += r.MentionsSymbolCreated
		result.MentionsCommitCreated += r.MentionsCommitCreated
		result.Errors = append(result.Errors, r.Errors...)
	}
	for _, m := range perBatchEntities {
		for chunkID, refs := range m {
			combinedEntities[chunkID] = append(combinedEntities[chunkID], refs...)
		}
	}

	perLib := make([]map[string][]string, len(libRefs))
	libErrs := make([]string, len(libRefs))
	gLib, gLibCtx := errgroup.WithContext(ctx)
	gLib.SetLimit(maxWorkers)
	for i, lib := range libRefs {
		i, lib := i, lib
		gLib.Go(func() error {
			select {
			case <-gLibCtx.Done():
				return gLibCtx.Err()
			default:
			}
			mentions, serr := xref.SweepMentionsLibrary(store, lib, xref.DefaultMentionsPerChunk)
			if serr != nil {
				libErrs[i] = serr.Error()
			}
			perLib[i] = mentions
			return nil
		})
	}
	libGroupErr := gLib.Wait()
	for _, e := range libErrs {
		if e != "" {
			result.Errors = append(result.Errors, e)
		}
	}

	perFile := make([]map[string][]string, len(filePaths))
	fileErrs := make([]string, len(filePaths))
	gFile, gFileCtx := errgroup.WithContext(ctx)
	gFile.SetLimit(maxWorkers)
	for i, p := range filePaths {
		i, p := i, p
		gFile.Go(func() error {
			select {
			case <-gFileCtx.Done():
				return gFileCtx.Err()
			default:
			}
			mentions, serr := xref.SweepMentionsFile(store, p, xref.DefaultMentionsPerChunk)
			if serr != nil {
				fileErrs[i] = serr.Error()
			}
			perFile[i] = mentions
			return nil
		})
	}
	fileGroupErr := gFile.Wait()
	for _, e := range fileErrs {
		if e != "" {
			result.Errors = append(result.Errors, e)
		}
	}

	libMentions := mergeMentions(perLib)
	if werr := xref.WriteMentions(store, graph.EdgeMentionsLibrary, graph.NodeLibrary, libMentions, result); werr != nil {
		result.Errors = append(result.Errors, werr.Error())
	}
	addEntityRefs(combinedEntities, libMentions, graph.NodeLibrary)

	fileMentions := mergeMentions(perFile)
	if werr := xref.WriteMentions(store, graph.EdgeMentionsFile, graph.NodeFile, fileMentions, result); werr != nil {
		result.Errors = append(result.Errors, werr.Error())
	}
	addEntityRefs(combinedEntities, fileMentions, graph.NodeFile)

	relatesRows := xref.DeriveRelatesTo(combinedEntities)
	if werr := xref.WriteRelatesTo(store, relatesRows, result); werr != nil {
		result.Errors = append(result.Errors, werr.Error())
	}

	if groupErr == nil {
		groupErr = libGroupErr
	}
	if groupErr == nil {
		groupErr = fileGroupErr
	}

	var commitFiles []xref.CommitFiles
	for _, c := range rawCommits {
		var files []string
		for _, ch := range c.Changes {
			files = append(files, ch.Path)
		}
		commitFiles = append(commitFiles, xref.CommitFiles{Hash: c.Hash, Files: files})
	}
	coOccurs := xref.DeriveCoOccursWith(commitFiles)
	if werr := xref.WriteCoOccursWith(store, coOccurs, result); werr != nil {
		result.Errors = append(result.Errors, werr.Error())
	}

	return map[string]int{
		"mentions_symbol": result.MentionsSymbolCreated, "mentions_library": result.MentionsLibraryCreated,
		"mentions_file": result.MentionsFileCreated, "mentions_commit": result.MentionsCommitCreated,
		"co_occurs": result.CoOccursCreated, "relates_to": result.RelatesToCreated,
	}, result.Errors, groupErr
}

// addEntityRefs folds one MENTIONS_* sweep's chunk->target map into the
// combined per-chunk entity list DeriveRelatesTo needs to find convergence
// across sweeps, not just within one.
func addEntityRefs(dst map[string][]xref.EntityRef, mentions map[string][]string, kind graph.NodeKind) {
	for chunkID, keys := range mentions {
		for _, k := range keys {
			dst[chunkID] = append(dst[chunkID], xref.EntityRef{Kind: kind, Key: k})
		}
	}
}

// mergeMentions combines the per-entity mention maps each worker in a
// fulltext sweep pool produced independently.
func mergeMentions(perEntity []map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for _, m := range perEntity {
		for chunkID, targets := range m {
			out[chunkID] = append(out[chunkID], targets...)
		}
	}
	return out
}

func runDerive(store *graphstore.Store, rawCommits []commits.RawCommit, chunked []chunk.Chunked) (map[string]int, []string, error) {
	watermark, werr := derive.LoadWatermark(store)
	if werr != nil {
		return nil, nil, werr
	}

	var evidence []derive.CommitEvidence
	var newest time.Time
	for _, c := range rawCommits {
		var files []string
		for _, ch := range c.Changes {
			files = append(files, ch.Path)
		}
		evidence = append(evidence, derive.CommitEvidence{Hash: c.Hash, Message: c.Message, Timestamp: c.Timestamp, Files: files})
		if c.Timestamp.After(newest) {
			newest = c.Timestamp
		}
	}
	evidence = derive.FilterSinceWatermark(evidence, watermark)

	acc := derive.NewAccumulator()
	derive.DeriveFromCommits(acc, evidence)

	knownFiles := make(map[string]bool)
	for _, c := range chunked {
		knownFiles[c.Chunk.File] = true
	}
	for _, c := range chunked {
		if c.Chunk.Kind == graph.ChunkKindDoc {
			derive.DeriveFromDocText(acc, c.Text, knownFiles, time.Now())
		}
	}

	edges := acc.Combine(derive.MinConfidence)
	if err := derive.WriteDerivedEdges(store, edges); err != nil {
		return nil, nil, err
	}
	if err := derive.AdvanceWatermark(store, newest); err != nil {
		return nil, nil, err
	}

	return map[string]int{"derived_edges": len(edges)}, nil, nil
}
