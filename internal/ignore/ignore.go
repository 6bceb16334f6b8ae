// Package ignore implements gitignore-style pattern matching used to
// decide which files under a dataset's root are eligible for indexing.
package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/indexforge/indexforge/internal/security"
)

// Matcher evaluates gitignore-style patterns plus a file admission
// allowlist (extensions and exact filenames) against relative paths.
type Matcher struct {
	patterns   []pattern
	extensions map[string]struct{}
	filenames  map[string]struct{}
}

type pattern struct {
	raw      string
	negate   bool
	dirOnly  bool
	anchored bool
	glob     string
}

// New builds a Matcher from a flat list of gitignore-style pattern
// lines. Lines that are empty or start with "#" are skipped.
func New(patterns []string) *Matcher {
	m := &Matcher{patterns: make([]pattern, 0, len(patterns))}
	for _, p := range patterns {
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		pat := pattern{raw: p}
		if strings.HasPrefix(p, "!") {
			pat.negate = true
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			pat.dirOnly = true
			p = strings.TrimSuffix(p, "/")
		}
		if strings.HasPrefix(p, "/") {
			pat.anchored = true
			p = strings.TrimPrefix(p, "/")
		}
		pat.glob = p
		m.patterns = append(m.patterns, pat)
	}
	return m
}

// WithAdmission restricts Admit to only the given extensions (with
// leading dot, e.g. ".go") and exact filenames. An empty allowlist
// means Admit accepts anything Match doesn't reject.
func (m *Matcher) WithAdmission(extensions, filenames []string) *Matcher {
	if len(extensions) > 0 {
		m.extensions = make(map[string]struct{}, len(extensions))
		for _, e := range extensions {
			m.extensions[e] = struct{}{}
		}
	}
	if len(filenames) > 0 {
		m.filenames = make(map[string]struct{}, len(filenames))
		for _, f := range filenames {
			m.filenames[f] = struct{}{}
		}
	}
	return m
}

// Match reports whether relPath should be ignored. The last pattern that
// matches wins, so a later "!pattern" can re-include something excluded
// earlier, matching gitignore semantics.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	ignored := false

	for _, pat := range m.patterns {
		if pat.dirOnly {
			if relPath == pat.glob && isDir {
				ignored = !pat.negate
				continue
			}
			if strings.HasPrefix(relPath, pat.glob+"/") {
				ignored = !pat.negate
				continue
			}
			if !pat.anchored {
				parts := strings.Split(relPath, "/")
				for i, part := range parts {
					if part != pat.glob {
						continue
					}
					if i == len(parts)-1 && isDir {
						ignored = !pat.negate
						break
					}
					if i < len(parts)-1 {
						ignored = !pat.negate
						break
					}
				}
			}
			continue
		}

		if matchPattern(pat, relPath, isDir) {
			ignored = !pat.negate
		}
	}

	return ignored
}

// Admit reports whether relPath passes both the ignore patterns and the
// admission allowlist (when one is configured). A file must not be
// ignored and, if an allowlist was set, must match it to be admitted.
func (m *Matcher) Admit(relPath string) bool {
	if m.Match(relPath, false) {
		return false
	}

	if m.extensions == nil && m.filenames == nil {
		return true
	}

	base := filepath.Base(relPath)
	if m.filenames != nil {
		if _, ok := m.filenames[base]; ok {
			return true
		}
	}
	if m.extensions != nil {
		if _, ok := m.extensions[filepath.Ext(base)]; ok {
			return true
		}
	}
	return false
}

func matchPattern(pat pattern, relPath string, isDir bool) bool {
	if pat.anchored {
		if matched, _ := filepath.Match(pat.glob, relPath); matched {
			return true
		}
		if isDir {
			matched, _ := filepath.Match(pat.glob, relPath+"/")
			return matched
		}
		return false
	}

	if matched, _ := filepath.Match(pat.glob, filepath.Base(relPath)); matched {
		return true
	}

	if strings.Contains(pat.glob, "/") {
		if matched, _ := filepath.Match(pat.glob, relPath); matched {
			return true
		}
	}

	parts := strings.Split(relPath, "/")
	for i := range parts {
		suffix := strings.Join(parts[i:], "/")
		if matched, _ := filepath.Match(pat.glob, suffix); matched {
			return true
		}
	}

	return false
}

// DefaultPatterns returns the common VCS/build/artifact directories every
// dataset ignores regardless of project-specific configuration.
func DefaultPatterns() []string {
	return []string{
		".git/",
		".svn/",
		".hg/",
		"node_modules/",
		"vendor/",
		"target/",
		"build/",
		"dist/",
		"*.pyc",
		"*.pyo",
		"*.class",
		"*.o",
		"*.so",
		"*.dylib",
		"*.dll",
		"*.exe",
		".DS_Store",
		"Thumbs.db",
	}
}

// LoadFile reads patterns from a .gitignore or .dockerignore file,
// validating the path stays within basePath.
func LoadFile(path string, basePath string) ([]string, error) {
	if _, err := security.ValidatePathWithinBase(path, basePath); err != nil {
		return nil, fmt.Errorf("ignore: invalid path: %w", err)
	}

	// #nosec G304 - path validated above with ValidatePathWithinBase
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ignore: read %s: %w", path, err)
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, nil
}

// LoadDatasetPatterns loads the default patterns plus any .gitignore and
// .dockerignore found at the dataset root, in that precedence order.
func LoadDatasetPatterns(root string) ([]string, error) {
	patterns := append([]string{}, DefaultPatterns()...)

	for _, name := range []string{".gitignore", ".dockerignore"} {
		loaded, err := LoadFile(filepath.Join(root, name), root)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, loaded...)
	}

	return patterns, nil
}
