package search

import "github.com/bmatcuk/doublestar/v4"

// globFilter decides, from a relative (forward-slash) path, whether a
// file should be searched. Exclude globs always win over include globs
// when both match.
type globFilter struct {
	include []string
	exclude []string
}

func newGlobFilter(include, exclude []string) globFilter {
	return globFilter{include: include, exclude: exclude}
}

func (g globFilter) allows(relPath string) bool {
	for _, pat := range g.exclude {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return false
		}
	}
	if len(g.include) == 0 {
		return true
	}
	for _, pat := range g.include {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return true
		}
	}
	return false
}
