package symbols

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"kgingest/internal/kgerrors"
)

// crossEcosystemAliases is the curated alias table spec.md's Open Question
// (i) calls for: packages whose import name differs from their distribution
// name (SPEC_FULL.md §4 C6 supplement).
var crossEcosystemAliases = map[string][]string{
	"scikit-learn":     {"sklearn"},
	"opencv-python":    {"cv2"},
	"pyyaml":           {"yaml"},
	"beautifulsoup4":   {"bs4"},
	"pillow":           {"pil"},
	"protobuf":         {"google.protobuf"},
	"python-dateutil":  {"dateutil"},
}

// aliasToCanonical is the reverse of crossEcosystemAliases: every known
// import-style alias, normalized, mapped back to its distribution slug.
var aliasToCanonical = buildAliasToCanonical()

func buildAliasToCanonical() map[string]string {
	m := make(map[string]string)
	for canonical, aliases := range crossEcosystemAliases {
		for _, alias := range aliases {
			m[normalizeSlug(alias)] = canonical
		}
	}
	return m
}

func normalizeSlug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}

// CanonicalSlug normalizes a declared or imported package name to its
// canonical slug: lowercase, dashes/underscores collapsed, scoped names
// (@scope/name) preserved, and any known cross-ecosystem import alias (e.g.
// "sklearn") collapsed to its distribution slug ("scikit-learn") so a
// manifest-declared dependency and its import merge onto one Library node
// (spec.md §8, invariant 8).
func CanonicalSlug(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "@") {
		return strings.ToLower(name)
	}
	lower := normalizeSlug(name)
	if canonical, ok := aliasToCanonical[lower]; ok {
		return canonical
	}
	return lower
}

// AliasesFor returns every alias the curated table knows for a canonical
// slug, always including the slug itself.
func AliasesFor(slug string) []string {
	aliases := []string{slug}
	if extra, ok := crossEcosystemAliases[slug]; ok {
		aliases = append(aliases, extra...)
	}
	for canonical, names := range crossEcosystemAliases {
		for _, n := range names {
			if CanonicalSlug(n) == slug {
				aliases = append(aliases, canonical)
			}
		}
	}
	return dedupeStrings(aliases)
}

func dedupeStrings(in []string) []string {
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

// SeededLibrary is one dependency-manifest-declared package.
type SeededLibrary struct {
	Slug        string
	DisplayName string
	Ecosystem   string
	Version     string
	Aliases     []string
}

var requirementLineRe = regexp.MustCompile(`^([A-Za-z0-9_.\-]+(?:\[[A-Za-z0-9_,\-]+\])?)\s*([=<>!~]{1,2}=?\s*[0-9A-Za-z.\-*]+)?`)

// ParseRequirementsTxt parses a Python requirements-style manifest. Fails
// with ManifestMalformed (non-fatal; spec.md §4.6) on the first line that
// contains '=' but does not match the requirement pattern, returning the
// libraries parsed before it; other unmatched lines are skipped.
func ParseRequirementsTxt(content []byte) ([]SeededLibrary, error) {
	var libs []SeededLibrary
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if strings.Count(line, "=") > 0 && !requirementLineRe.MatchString(line) {
			return libs, kgerrors.PerFile("symbols", "malformed requirements line: "+line, nil)
		}
		m := requirementLineRe.FindStringSubmatch(line)
		if m == nil || m[1] == "" {
			continue
		}
		name := m[1]
		version := strings.TrimSpace(m[2])
		slug := CanonicalSlug(name)
		libs = append(libs, SeededLibrary{Slug: slug, DisplayName: name, Ecosystem: "py", Version: version, Aliases: AliasesFor(slug)})
	}
	return libs, nil
}

// ParsePackageJSON parses a package.json-style manifest's dependency
// sections (dependencies, devDependencies, peerDependencies).
func ParsePackageJSON(content []byte) ([]SeededLibrary, error) {
	var doc struct {
		Dependencies     map[string]string `json:"dependencies"`
		DevDependencies  map[string]string `json:"devDependencies"`
		PeerDependencies map[string]string `json:"peerDependencies"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, kgerrors.PerFile("symbols", "malformed package.json", err)
	}

	var libs []SeededLibrary
	for _, section := range []map[string]string{doc.Dependencies, doc.DevDependencies, doc.PeerDependencies} {
		for name, version := range section {
			slug := CanonicalSlug(name)
			libs = append(libs, SeededLibrary{Slug: slug, DisplayName: name, Ecosystem: "js", Version: version, Aliases: AliasesFor(slug)})
		}
	}
	return libs, nil
}

// ResolveImport classifies a raw import target as internal (resolves to a
// repo file) or external (a Library), per spec.md §4.6.
func ResolveImport(module string) (isInternal bool, slug string) {
	if strings.HasPrefix(module, ".") || strings.HasPrefix(module, "/") {
		return true, ""
	}
	// Go-style nested module paths (e.g. "os/exec") use the first segment
	// as the library/package root for external deps; internal repo imports
	// are resolved against the module path by the caller, which has the
	// repo's own module name available.
	top := module
	if idx := strings.IndexByte(module, '/'); idx > 0 {
		top = module[:idx]
	}
	return false, CanonicalSlug(top)
}
