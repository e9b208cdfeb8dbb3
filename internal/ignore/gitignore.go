// Package ignore implements the gitignore-style pattern matching the
// codebase walker uses to honor .gitignore/.ignore files, independent of
// any particular indexing concern. No global ignore file or setting is
// loaded.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Parser holds a set of gitignore-style patterns and matches paths
// against them.
type Parser struct {
	patterns []Pattern
}

// Pattern is a single parsed gitignore line, expressed as the
// doublestar glob(s) that match its own entry and, for a directory
// pattern, the glob(s) that match anything nested beneath it.
type Pattern struct {
	Pattern   string
	Negate    bool
	Directory bool
	Absolute  bool

	globs  []string
	inside []string
}

// New creates an empty Parser.
func New() *Parser {
	return &Parser{}
}

// LoadFile loads patterns from a single ignore file (.gitignore or
// .ignore). A missing file is not an error.
func (p *Parser) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p.patterns = append(p.patterns, parsePattern(line))
	}
	return scanner.Err()
}

// LoadDir loads both .gitignore and .ignore from a directory, in that
// order, matching ripgrep's own precedence (.ignore is a superset/
// override but neither here negates the other; patterns simply
// accumulate).
func (p *Parser) LoadDir(dir string) error {
	if err := p.LoadFile(filepath.Join(dir, ".gitignore")); err != nil {
		return err
	}
	return p.LoadFile(filepath.Join(dir, ".ignore"))
}

// AddPattern adds a single pattern line directly, after any patterns
// already loaded from files.
func (p *Parser) AddPattern(line string) {
	p.patterns = append(p.patterns, parsePattern(line))
}

// parsePattern strips the gitignore modifiers (leading "!", leading
// "/", trailing "/") from a line and compiles what's left into glob
// form.
func parsePattern(line string) Pattern {
	pat := Pattern{}
	if strings.HasPrefix(line, "!") {
		pat.Negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		pat.Directory = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		pat.Absolute = true
		line = line[1:]
	}
	pat.Pattern = line
	pat.globs, pat.inside = compileGlobs(line, pat.Absolute, pat.Directory)
	return pat
}

// compileGlobs turns a stripped pattern body into the doublestar
// glob(s) that match it. A pattern anchored by a leading "/" or
// containing an internal "/" is, per gitignore, relative to the
// ignore file's own directory and matches at that level only; an
// unanchored, slash-free pattern matches an entry of that name at any
// depth, so it's tried both bare and "**/"-prefixed. A directory
// pattern additionally gets an inside set, "/**"-suffixed, to catch
// everything nested beneath it regardless of the entry's own depth.
func compileGlobs(body string, absolute, directory bool) (globs, inside []string) {
	if absolute || strings.Contains(body, "/") {
		globs = []string{body}
	} else {
		globs = []string{body, "**/" + body}
	}
	if directory {
		inside = make([]string, len(globs))
		for i, g := range globs {
			inside[i] = g + "/**"
		}
	}
	return globs, inside
}

// ShouldIgnore reports whether path (relative to the walk root,
// forward slashes) should be excluded, applying negation in
// declaration order so a later `!pattern` can re-include something an
// earlier pattern excluded.
func (p *Parser) ShouldIgnore(path string, isDir bool) bool {
	path = filepath.ToSlash(path)
	ignored := false
	for _, pattern := range p.patterns {
		if p.matches(pattern, path, isDir) {
			ignored = !pattern.Negate
		}
	}
	return ignored
}

func (p *Parser) matches(pattern Pattern, path string, isDir bool) bool {
	for _, g := range pattern.globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	for _, g := range pattern.inside {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// Empty reports whether no patterns were loaded.
func (p *Parser) Empty() bool { return len(p.patterns) == 0 }
