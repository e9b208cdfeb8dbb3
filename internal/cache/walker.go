package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/memsearchd/internal/debug"
	mserrors "github.com/standardbeagle/memsearchd/internal/errors"
	"github.com/standardbeagle/memsearchd/internal/ignore"
	"github.com/standardbeagle/memsearchd/pkg/pathutil"
)

// candidate is a file the walker decided is worth opening and mapping,
// already past the cheap filename/size/extension filters.
type candidate struct {
	absPath string
	relPath string // forward-slash, relative to root
	size    int64
}

type walker struct {
	root         string
	ignoreParser *ignore.Parser
	maxFileBytes int64
	visited      map[string]bool // resolved real paths of symlinked dirs already descended into
	candidates   []candidate
}

// walkRoot performs the single recursive walk the cache's construction
// does: honors .gitignore/.ignore, skips hidden entries (including
// .git), follows symlinks only when their target resolves inside root,
// and breaks symlink cycles via a visited-realpath set. Entries at each
// directory level are visited in the order os.ReadDir returns them
// (lexical by name), which is what gives the cache its deterministic
// walker order.
func walkRoot(root string, maxFileBytes int64) ([]candidate, error) {
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	parser := ignore.New()
	if err := parser.LoadDir(root); err != nil {
		debug.Warnf("cache", "failed to load ignore files in %s: %v", root, err)
	}

	w := &walker{
		root:         root,
		ignoreParser: parser,
		maxFileBytes: maxFileBytes,
		visited:      make(map[string]bool),
	}

	if err := w.walkDir(root, ""); err != nil {
		return nil, err
	}
	return w.candidates, nil
}

// walkDir descends into absDir, whose path relative to root is relDir
// ("" for root itself). Errors reading a subdirectory are logged and
// that subtree is simply skipped; only a failure to read root itself is
// propagated, since an unreadable root aborts the whole tenant.
func (w *walker) walkDir(absDir, relDir string) error {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		if relDir == "" {
			return fmt.Errorf("reading root %s: %w", absDir, err)
		}
		debug.Warnf("cache", "%v", mserrors.NewFileError(relDir, "unreadable directory", err))
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		absPath := filepath.Join(absDir, name)
		relPath := name
		if relDir != "" {
			relPath = relDir + "/" + name
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			w.visitSymlink(absPath, relPath)
			continue
		}

		if entry.IsDir() {
			if w.ignoreParser.ShouldIgnore(relPath, true) {
				continue
			}
			if err := w.walkDir(absPath, relPath); err != nil {
				return err
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			debug.Warnf("cache", "%v", mserrors.NewFileError(relPath, "stat failed", err))
			continue
		}
		if w.ignoreParser.ShouldIgnore(relPath, false) {
			continue
		}
		w.considerFile(absPath, relPath, info.Size())
	}
	return nil
}

func (w *walker) visitSymlink(absPath, relPath string) {
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		debug.Debugf("cache", "%v", mserrors.NewFileError(relPath, "unresolvable symlink", err))
		return
	}
	if !pathutil.IsWithinRoot(resolved, w.root) {
		debug.Debugf("cache", "%v", mserrors.NewFileError(relPath, "symlink target escapes root", nil))
		return
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return
	}

	if info.IsDir() {
		if w.visited[resolved] {
			debug.Debugf("cache", "%v", mserrors.NewFileError(relPath, "symlink cycle detected", nil))
			return
		}
		w.visited[resolved] = true
		if w.ignoreParser.ShouldIgnore(relPath, true) {
			return
		}
		if err := w.walkDir(resolved, relPath); err != nil {
			debug.Warnf("cache", "%v", mserrors.NewFileError(relPath, "descending into symlinked directory", err))
		}
		return
	}

	if w.ignoreParser.ShouldIgnore(relPath, false) {
		return
	}
	// Canonicalize through the resolved target so MappedFile.Path always
	// refers to the real file, not the symlink that pointed to it.
	w.considerFile(resolved, relPath, info.Size())
}

func (w *walker) considerFile(absPath, relPath string, size int64) {
	if size > w.maxFileBytes {
		debug.Debugf("cache", "%v", mserrors.NewFileError(relPath, fmt.Sprintf("%d bytes exceeds limit", size), nil))
		return
	}
	if looksBinaryByExtension(absPath) {
		debug.Debugf("cache", "%v", mserrors.NewFileError(relPath, "binary extension", nil))
		return
	}
	w.candidates = append(w.candidates, candidate{absPath: absPath, relPath: relPath, size: size})
}
