package search

import (
	"fmt"
	"regexp"
)

// compilePattern builds the regexp for a single request. No compiled
// pattern is cached across requests in this version — recompiling on
// every query keeps the engine stateless and is cheap relative to the
// scan it precedes.
//
// ignore_case is the only case-sensitivity lever: absent, matching is
// always case-sensitive; set, matching is forced case-insensitive. (A
// smart-case default was considered and rejected — see DESIGN.md.)
func compilePattern(pattern string, opts Options) (*regexp.Regexp, error) {
	body := pattern
	if opts.FixedStrings {
		body = regexp.QuoteMeta(body)
	}
	if opts.WordRegexp {
		body = `\b(?:` + body + `)\b`
	}

	var flags string
	if opts.IgnoreCase {
		flags += "i"
	}
	if opts.Multiline {
		flags += "s"
	}
	if flags != "" {
		body = "(?" + flags + ")" + body
	}

	re, err := regexp.Compile(body)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	return re, nil
}
