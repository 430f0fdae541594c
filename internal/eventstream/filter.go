package eventstream

import (
	"path/filepath"
	"strings"
)

// defaultExtensions is the recognized source-file set. Anything else is
// noise for the drift engine.
var defaultExtensions = []string{
	".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".kt", ".rb",
	".rs", ".c", ".cc", ".cpp", ".h", ".hpp", ".cs", ".php", ".swift",
	".scala", ".sql", ".proto", ".tf", ".yaml", ".yml", ".toml", ".json",
}

// defaultIgnoreDirs are dependency/build/cache directory segments; a path
// containing any of these as a component never produces an event.
var defaultIgnoreDirs = []string{
	"node_modules", "vendor", ".git", "dist", "build", "target", "out",
	"__pycache__", ".venv", "venv", ".idea", ".vscode", ".cache",
	".pytest_cache", ".mypy_cache", "coverage", ".next", ".terraform",
}

// Filter decides whether a path qualifies as a source-file change. It is a
// pure function of the path string.
type Filter struct {
	exts   map[string]struct{}
	ignore map[string]struct{}
}

// NewFilter builds a Filter; empty slices fall back to the built-in sets.
func NewFilter(extensions, ignoreDirs []string) *Filter {
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	if len(ignoreDirs) == 0 {
		ignoreDirs = defaultIgnoreDirs
	}
	f := &Filter{
		exts:   make(map[string]struct{}, len(extensions)),
		ignore: make(map[string]struct{}, len(ignoreDirs)),
	}
	for _, e := range extensions {
		f.exts[strings.ToLower(e)] = struct{}{}
	}
	for _, d := range ignoreDirs {
		f.ignore[d] = struct{}{}
	}
	return f
}

// Allows reports whether the path has a recognized source extension and no
// ignored directory segment as a path component.
func (f *Filter) Allows(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := f.exts[ext]; !ok {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if _, ok := f.ignore[seg]; ok {
			return false
		}
	}
	return true
}

// IgnoresDir reports whether a directory name is an ignored segment; used
// to prune the recursive watch.
func (f *Filter) IgnoresDir(name string) bool {
	_, ok := f.ignore[name]
	return ok
}
