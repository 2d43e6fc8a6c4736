package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cutpoint/pluginhost/manifest"
)

// wasmMagic is the leading bytes of every WebAssembly binary.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// luaMarker is the capability marker heuristic scanning looks for in
// loose Lua sources.
const luaMarker = "pluginhost.register"

// maxCandidateBytes caps how much of a candidate file is read during
// scanning, so an oversized or hostile file cannot stall discovery.
const maxCandidateBytes = 1 << 20

// Scanner discovers candidate plugin units under search paths.
type Scanner struct {
	paths    []string
	patterns []string
	maxDepth int
	cache    *Cache
	logger   *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithMaxDepth bounds recursion below each search path.
func WithMaxDepth(depth int) ScannerOption {
	return func(s *Scanner) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithPatterns sets the doublestar file patterns recognized as loose
// plugin sources.
func WithPatterns(patterns ...string) ScannerOption {
	return func(s *Scanner) {
		if len(patterns) > 0 {
			s.patterns = patterns
		}
	}
}

// WithCache enables result caching.
func WithCache(c *Cache) ScannerOption {
	return func(s *Scanner) { s.cache = c }
}

// WithScannerLogger sets the scanner logger.
func WithScannerLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner creates a scanner over the given search paths.
func NewScanner(paths []string, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		paths:    paths,
		patterns: []string{"**/*.lua", "**/*.wasm"},
		maxDepth: 5,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover walks the search paths and returns candidate units.
//
// Missing directories are skipped, not errors. A malformed manifest or
// a manifest whose entry point does not exist drops that candidate with
// a log line; discovery never fails a whole scan over one bad
// candidate. With a cache configured, a previous result set is reused
// unless forceRefresh is set.
func (s *Scanner) Discover(ctx context.Context, forceRefresh bool) ([]CandidateUnit, error) {
	if s.cache != nil && !forceRefresh {
		if cached, ok := s.cache.Get(s.paths); ok {
			s.logger.Debug("discovery served from cache", "candidates", len(cached))
			return cached, nil
		}
	}

	var candidates []CandidateUnit
	for _, root := range s.paths {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			s.logger.Debug("skipping missing search path", "path", root)
			continue
		}
		found, err := s.scanRoot(ctx, root)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	if s.cache != nil {
		if err := s.cache.Put(s.paths, candidates); err != nil {
			s.logger.Warn("failed to persist discovery cache", "error", err)
		}
	}
	return candidates, nil
}

func (s *Scanner) scanRoot(ctx context.Context, root string) ([]CandidateUnit, error) {
	var candidates []CandidateUnit

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if depthBelow(root, path) > s.maxDepth {
			return fs.SkipDir
		}

		found := s.scanDir(path)
		candidates = append(candidates, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %q: %w", root, err)
	}
	return candidates, nil
}

// scanDir inspects one directory. A manifest takes precedence: when
// one is present, heuristic source scanning is skipped for that
// directory even if the manifest turns out to be malformed.
func (s *Scanner) scanDir(dir string) []CandidateUnit {
	path, ok := s.findManifest(dir)
	if !ok {
		return s.looseCandidates(dir)
	}
	if c, ok := s.manifestCandidate(dir, path); ok {
		return []CandidateUnit{c}
	}
	return nil
}

func (s *Scanner) findManifest(dir string) (string, bool) {
	for _, name := range manifest.Filenames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func (s *Scanner) manifestCandidate(dir, path string) (CandidateUnit, bool) {
	m, err := s.parseManifest(path)
	if err != nil {
		s.logger.Warn("dropping malformed manifest", "path", path, "error", err)
		return CandidateUnit{}, false
	}

	entry := filepath.Join(dir, m.EntryPoint)
	if _, err := os.Stat(entry); err != nil {
		s.logger.Warn("dropping manifest with missing entry point",
			"path", path, "entry_point", m.EntryPoint)
		return CandidateUnit{}, false
	}

	kind, err := unitKindOf(entry)
	if err != nil {
		s.logger.Warn("dropping manifest with unrecognized entry point",
			"path", path, "error", err)
		return CandidateUnit{}, false
	}

	return CandidateUnit{
		ID:           m.ID,
		Kind:         kind,
		SourcePath:   entry,
		Dir:          dir,
		Manifest:     m,
		DiscoveredAt: time.Now().UTC(),
	}, true
}

func (s *Scanner) parseManifest(path string) (*manifest.Manifest, error) {
	data, err := readCapped(path, maxCandidateBytes)
	if err != nil {
		return nil, err
	}
	parser, err := manifest.ParserFor(path)
	if err != nil {
		return nil, err
	}
	m, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Scanner) looseCandidates(dir string) []CandidateUnit {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var candidates []CandidateUnit
	for _, entry := range entries {
		if entry.IsDir() || !s.matchesPattern(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		kind, err := unitKindOf(path)
		if err != nil {
			continue
		}
		if kind == UnitLua && !s.hasLuaMarker(path) {
			continue
		}
		if kind == UnitWASM && !hasWASMMagic(path) {
			s.logger.Warn("dropping candidate without wasm magic", "path", path)
			continue
		}

		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		candidates = append(candidates, CandidateUnit{
			ID:           id,
			Kind:         kind,
			SourcePath:   path,
			Dir:          dir,
			DiscoveredAt: time.Now().UTC(),
		})
	}
	return candidates
}

func (s *Scanner) matchesPattern(name string) bool {
	for _, pattern := range s.patterns {
		// Patterns are directory-recursive; only the base name matters
		// here because the walk already handles recursion.
		base := pattern
		if idx := strings.LastIndex(pattern, "/"); idx >= 0 {
			base = pattern[idx+1:]
		}
		if ok, err := doublestar.Match(base, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Scanner) hasLuaMarker(path string) bool {
	data, err := readCapped(path, maxCandidateBytes)
	if err != nil {
		s.logger.Warn("skipping unreadable candidate", "path", path, "error", err)
		return false
	}
	return strings.Contains(string(data), luaMarker)
}

func unitKindOf(path string) (UnitKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return UnitLua, nil
	case ".wasm":
		return UnitWASM, nil
	default:
		return "", fmt.Errorf("unrecognized plugin unit: %s", path)
	}
}

func hasWASMMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, len(wasmMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, wasmMagic)
}

// readCapped reads at most limit bytes, failing on oversized files
// instead of truncating them silently.
func readCapped(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file %q exceeds %d byte scan limit", path, limit)
	}
	return data, nil
}

// depthBelow counts directory levels of path under root.
func depthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}
