// Package scan is the Repository Scanner (C2): walks a repository once,
// classifies every file, normalizes paths to repo-relative POSIX, and reads
// text content with an encoding-fallback ladder. It never touches the store;
// it hands a FileInventory to the Manifest & Delta Planner (internal/manifest).
package scan

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"kgingest/internal/graph"
	"kgingest/internal/logging"
)

// MaxFileSize is the default per-file size limit; larger files are skipped
// with a warning (spec.md §4.2).
const MaxFileSize = 10 * 1024 * 1024

// FileRecord is one scanned file, before content-hashing by the manifest.
type FileRecord struct {
	Path     string // repo-relative POSIX
	AbsPath  string
	Kind     graph.FileKind
	Language string
	Size     int64
	MTime    float64
}

// ReadResult is the outcome of reading a file's text with encoding fallback.
type ReadResult struct {
	Text     string
	Decoding graph.Decoding
}

// FileInventory is the scanner's full output for one scan pass.
type FileInventory struct {
	Files   []FileRecord
	Skipped []SkippedFile
}

// SkippedFile records a file the scanner declined to include, with reason.
type SkippedFile struct {
	Path   string
	Reason string
}

// Options configures a scan pass.
type Options struct {
	IncludeUntracked bool
	MaxFileSize      int64
	Subpath          string // scope to files under this repo-relative prefix
}

// Scanner enumerates and classifies files under a repository root.
type Scanner struct {
	root string
}

// New creates a Scanner rooted at repoRoot (an absolute path to the git worktree).
func New(repoRoot string) *Scanner {
	return &Scanner{root: repoRoot}
}

// Scan walks the repository per opts and returns a classified FileInventory.
// Tracked files come from `git ls-files`; untracked working-tree files are
// added only when opts.IncludeUntracked is set (spec.md §4.2).
func (s *Scanner) Scan(opts Options) (*FileInventory, error) {
	timer := logging.StartTimer(logging.CategoryScan, "Scan")
	defer timer.Stop()

	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = MaxFileSize
	}

	paths, err := s.listTrackedPaths()
	if err != nil {
		return nil, fmt.Errorf("list tracked paths: %w", err)
	}
	if opts.IncludeUntracked {
		untracked, err := s.listUntrackedPaths()
		if err != nil {
			logging.Get(logging.CategoryScan).Warn("failed to list untracked files: %v", err)
		} else {
			paths = append(paths, untracked...)
		}
	}

	inv := &FileInventory{}
	for _, rel := range paths {
		rel = ToRepoPOSIX(rel)
		if opts.Subpath != "" && !strings.HasPrefix(rel, strings.TrimSuffix(opts.Subpath, "/")+"/") && rel != opts.Subpath {
			continue
		}

		abs, err := s.resolveWithinRoot(rel)
		if err != nil {
			inv.Skipped = append(inv.Skipped, SkippedFile{Path: rel, Reason: "path escapes repo root: " + err.Error()})
			continue
		}

		info, err := os.Lstat(abs)
		if err != nil {
			inv.Skipped = append(inv.Skipped, SkippedFile{Path: rel, Reason: "stat failed: " + err.Error()})
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil || !withinRoot(s.root, resolved) {
				inv.Skipped = append(inv.Skipped, SkippedFile{Path: rel, Reason: "symlink escapes repo root"})
				continue
			}
			info, err = os.Stat(resolved)
			if err != nil {
				inv.Skipped = append(inv.Skipped, SkippedFile{Path: rel, Reason: "stat target failed: " + err.Error()})
				continue
			}
		}
		if info.IsDir() {
			continue
		}
		if info.Size() > opts.MaxFileSize {
			logging.Get(logging.CategoryScan).Warn("skipping oversized file: %s (%d bytes)", rel, info.Size())
			inv.Skipped = append(inv.Skipped, SkippedFile{Path: rel, Reason: "exceeds max file size"})
			continue
		}

		kind, lang := Classify(rel)
		inv.Files = append(inv.Files, FileRecord{
			Path:     rel,
			AbsPath:  abs,
			Kind:     kind,
			Language: lang,
			Size:     info.Size(),
			MTime:    float64(info.ModTime().UnixNano()) / 1e9,
		})
	}

	logging.Get(logging.CategoryScan).Info("scanned %d files (%d skipped)", len(inv.Files), len(inv.Skipped))
	return inv, nil
}

func (s *Scanner) listTrackedPaths() ([]string, error) {
	cmd := exec.Command("git", "-C", s.root, "ls-files", "-z")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return splitNUL(out.String()), nil
}

func (s *Scanner) listUntrackedPaths() ([]string, error) {
	cmd := exec.Command("git", "-C", s.root, "ls-files", "-z", "--others", "--exclude-standard")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return splitNUL(out.String()), nil
}

func splitNUL(s string) []string {
	parts := strings.Split(strings.TrimRight(s, "\x00"), "\x00")
	var result []string
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// resolveWithinRoot joins rel onto root and rejects the result if it escapes
// root (invariant 7: no absolute prefixes, and no symlink escapes).
func (s *Scanner) resolveWithinRoot(rel string) (string, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if !withinRoot(s.root, abs) {
		return "", fmt.Errorf("resolved path %s is outside root %s", abs, s.root)
	}
	return abs, nil
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ToRepoPOSIX normalizes a path to forward-slash, repo-relative form
// (invariant 7).
func ToRepoPOSIX(p string) string {
	return filepath.ToSlash(p)
}

// ReadText reads a file's bytes and decodes them to text using the
// encoding-fallback ladder from spec.md §4.2: UTF-8 first, then a
// Latin-1-with-replacement fallback, counting replacement characters.
func ReadText(path string) (ReadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReadResult{}, err
	}

	trimmed := bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(trimmed) {
		return ReadResult{
			Text:     string(trimmed),
			Decoding: graph.Decoding{Encoding: "utf-8", FallbackUsed: false},
		}, nil
	}

	text, replacements := decodeLatin1WithReplacement(data)
	return ReadResult{
		Text: text,
		Decoding: graph.Decoding{
			Encoding:         "latin-1",
			FallbackUsed:     true,
			ReplacementChars: replacements,
		},
	}, nil
}

// decodeLatin1WithReplacement maps each byte to its Latin-1 code point,
// except C0 control bytes other than \n, \t and \r, which are written as
// U+FFFD and counted as the fallback's "replacement_chars". C1 control
// bytes (0x80-0x9F) are mapped like any other byte and not counted.
func decodeLatin1WithReplacement(data []byte) (string, int) {
	var b strings.Builder
	b.Grow(len(data))
	replacements := 0
	for _, c := range data {
		if c < 0x20 && c != '\n' && c != '\t' && c != '\r' {
			b.WriteRune(utf8.RuneError)
			replacements++
			continue
		}
		b.WriteRune(rune(c))
	}
	return b.String(), replacements
}

// IsBinary sniffs the first 8000 bytes for a NUL byte, the conventional
// binary/text heuristic (spec.md §4.2).
func IsBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, 8000)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false, nil
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

var codeExts = map[string]string{
	".py": "python", ".ts": "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript", ".go": "go", ".rs": "rust",
	".java": "java", ".cpp": "cpp", ".cc": "cpp", ".c": "c", ".h": "c", ".hpp": "cpp",
}

var docExts = map[string]bool{".md": true, ".rst": true, ".txt": true}

var configExts = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".cfg": true,
}

// Classify assigns a FileKind and best-guess language by extension and path
// pattern (spec.md §4.2).
func Classify(relPath string) (graph.FileKind, string) {
	ext := strings.ToLower(filepath.Ext(relPath))
	base := filepath.Base(relPath)

	if lang, ok := codeExts[ext]; ok {
		return graph.FileKindCode, lang
	}
	if docExts[ext] || strings.HasPrefix(relPath, "docs/") {
		return graph.FileKindDoc, "markdown"
	}
	if configExts[ext] || strings.HasPrefix(base, "Dockerfile") {
		return graph.FileKindConfig, "config"
	}
	if ext == "" && (base == "Makefile" || base == "Dockerfile") {
		return graph.FileKindConfig, "config"
	}
	return graph.FileKindOther, "unknown"
}

// ContentHash computes a sha256 hex digest of raw file bytes, used by C3 to
// content-address the manifest.
func ContentHash(path string) (string, error) {
	return sha256File(path)
}

// ParseMTime renders a float64 mtime the way File.mtime is stored, kept as
// a named helper so callers format consistently.
func ParseMTime(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
