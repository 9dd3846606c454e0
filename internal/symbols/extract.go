package symbols

import (
	"path"
	"strings"

	"kgingest/internal/graph"
	"kgingest/internal/graphstore"
	"kgingest/internal/logging"
	"kgingest/internal/scan"
)

// Result is the telemetry C6 reports to the orchestrator.
type Result struct {
	SymbolsCreated   int
	LibrariesCreated int
	ImportEdges      int
	ParseErrors      []string
	ManifestErrors   []string
}

// ExtractFile parses one code file and writes its Symbol nodes and
// IMPORTS/USES_LIBRARY edges. moduleIndex maps every repo-internal import
// target (relative path or package-style name) to the File.path it resolves
// to, so ResolveImport's internal/external split can be store-backed.
func ExtractFile(store *graphstore.Store, file scan.FileRecord, content []byte, moduleIndex map[string]string, result *Result) {
	if !SupportedLanguages[file.Language] {
		return
	}
	parsed, err := ParseFile(file.Language, file.Path, content)
	if err != nil {
		result.ParseErrors = append(result.ParseErrors, err.Error())
		logging.Get(logging.CategorySymbols).Warn("parse error for %s: %v", file.Path, err)
		return
	}

	var symbolRows []graphstore.NodeRow
	for _, sym := range parsed.Symbols {
		uid := file.Path + "#" + sym.Name + ":" + string(sym.Kind)
		symbolRows = append(symbolRows, graphstore.NodeRow{
			Key: uid,
			Props: graph.Symbol{UID: uid, Name: sym.Name, Kind: sym.Kind, Language: file.Language, File: file.Path, Span: sym.Span},
		})
	}
	if len(symbolRows) > 0 {
		if err := store.BatchUpsertNodes(graph.NodeSymbol, symbolRows); err != nil {
			result.ParseErrors = append(result.ParseErrors, err.Error())
			return
		}
		var definedIn []graphstore.EdgeRow
		for _, row := range symbolRows {
			definedIn = append(definedIn, graphstore.EdgeRow{
				SubjectKind: graph.NodeSymbol, SubjectKey: row.Key,
				ObjectKind: graph.NodeFile, ObjectKey: file.Path,
			})
		}
		_ = store.BatchUpsertEdges(graph.EdgeDefinedIn, definedIn)
		result.SymbolsCreated += len(symbolRows)
		for _, row := range symbolRows {
			sym := row.Props.(graph.Symbol)
			if ierr := store.IndexEntityText(string(graph.NodeSymbol), row.Key, sym.Name); ierr != nil {
				result.ParseErrors = append(result.ParseErrors, ierr.Error())
			}
		}
	}

	var importRows []graphstore.EdgeRow
	var usesRows []graphstore.EdgeRow
	var libRows []graphstore.NodeRow
	for _, imp := range parsed.Imports {
		if target, ok := resolveInternal(file.Path, imp.Module, moduleIndex); ok {
			importRows = append(importRows, graphstore.EdgeRow{
				SubjectKind: graph.NodeFile, SubjectKey: file.Path,
				ObjectKind: graph.NodeFile, ObjectKey: target,
			})
			continue
		}
		_, slug := ResolveImport(imp.Module)
		if slug == "" {
			continue
		}
		libRows = append(libRows, graphstore.NodeRow{
			Key: slug,
			Props: graph.Library{Slug: slug, DisplayName: imp.Module, Ecosystem: ecosystemFor(file.Language), Source: graph.LibrarySourceDiscovered, Aliases: AliasesFor(slug)},
		})
		usesRows = append(usesRows, graphstore.EdgeRow{
			SubjectKind: graph.NodeFile, SubjectKey: file.Path,
			ObjectKind: graph.NodeLibrary, ObjectKey: slug,
		})
	}

	if len(libRows) > 0 {
		_ = store.BatchUpsertNodes(graph.NodeLibrary, libRows)
		result.LibrariesCreated += len(libRows)
		indexLibraryRows(store, libRows, result)
	}
	if len(importRows) > 0 {
		_ = store.BatchUpsertEdges(graph.EdgeImports, importRows)
		result.ImportEdges += len(importRows)
	}
	if len(usesRows) > 0 {
		_ = store.BatchUpsertEdges(graph.EdgeUsesLibrary, usesRows)
	}
}

// resolveInternal checks whether an import target resolves to a file
// already known to the repo's module index (keyed by import-style path).
func resolveInternal(fromPath, module string, moduleIndex map[string]string) (string, bool) {
	if strings.HasPrefix(module, ".") {
		resolved := path.Clean(path.Join(path.Dir(fromPath), module))
		for _, ext := range []string{"", ".go", ".py", ".js", ".ts", ".tsx"} {
			if target, ok := moduleIndex[resolved+ext]; ok {
				return target, true
			}
		}
		return "", false
	}
	target, ok := moduleIndex[module]
	return target, ok
}

// indexLibraryRows populates entity_fts with each Library's display name and
// known aliases, so `kgingest search --kind=entity` finds a Library by any
// of them. C9's library sweep does not read entity_fts; it queries chunk_fts.
func indexLibraryRows(store *graphstore.Store, rows []graphstore.NodeRow, result *Result) {
	for _, row := range rows {
		lib := row.Props.(graph.Library)
		text := lib.DisplayName
		if len(lib.Aliases) > 0 {
			text += " " + strings.Join(lib.Aliases, " ")
		}
		if ierr := store.IndexEntityText(string(graph.NodeLibrary), row.Key, text); ierr != nil {
			result.ManifestErrors = append(result.ManifestErrors, ierr.Error())
		}
	}
}

func ecosystemFor(language string) string {
	switch language {
	case "python":
		return "py"
	case "javascript", "typescript":
		return "js"
	case "rust":
		return "rs"
	case "go":
		return "go"
	default:
		return "other"
	}
}

// SeedManifests parses every known dependency manifest in files and writes
// Library nodes with source=manifest. Each unparseable manifest is a
// ManifestMalformed telemetry entry, not a fatal error (spec.md §4.6).
func SeedManifests(store *graphstore.Store, files []scan.FileRecord, readContent func(scan.FileRecord) ([]byte, error), result *Result) {
	for _, f := range files {
		base := path.Base(f.Path)
		var libs []SeededLibrary
		var err error

		switch {
		case strings.HasPrefix(base, "requirements") && strings.HasSuffix(base, ".txt"):
			content, rerr := readContent(f)
			if rerr != nil {
				continue
			}
			libs, err = ParseRequirementsTxt(content)
		case base == "package.json":
			content, rerr := readContent(f)
			if rerr != nil {
				continue
			}
			libs, err = ParsePackageJSON(content)
		default:
			continue
		}

		if err != nil {
			result.ManifestErrors = append(result.ManifestErrors, f.Path+": "+err.Error())
			logging.Get(logging.CategorySymbols).Warn("manifest malformed: %s: %v", f.Path, err)
		}
		if len(libs) == 0 {
			continue
		}

		var rows []graphstore.NodeRow
		for _, lib := range libs {
			rows = append(rows, graphstore.NodeRow{
				Key: lib.Slug,
				Props: graph.Library{
					Slug: lib.Slug, DisplayName: lib.DisplayName, Ecosystem: lib.Ecosystem,
					Version: lib.Version, Source: graph.LibrarySourceManifest, Aliases: lib.Aliases,
				},
			})
		}
		if err := store.BatchUpsertNodes(graph.NodeLibrary, rows); err == nil {
			result.LibrariesCreated += len(rows)
			indexLibraryRows(store, rows, result)
		}
	}
}
