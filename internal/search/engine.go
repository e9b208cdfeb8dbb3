package search

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/standardbeagle/memsearchd/internal/cache"
	"github.com/standardbeagle/memsearchd/pkg/pathutil"
)

// Engine runs compiled-per-request regex searches over a CodebaseCache's
// mapped buffers and serializes results into ripgrep's plain-text
// convention. It holds no per-query state between calls.
type Engine struct {
	defaultWorkers int
}

// NewEngine returns an Engine whose search-internal parallelism defaults
// to defaultWorkers when a request doesn't specify its own thread cap.
func NewEngine(defaultWorkers int) *Engine {
	if defaultWorkers < 1 {
		defaultWorkers = 1
	}
	return &Engine{defaultWorkers: defaultWorkers}
}

// span is a half-open [start,end) byte range for one line, with CRLF
// already trimmed from end.
type span struct{ start, end int }

// buildLineSpans splits data into line spans in a single pass, trimming
// a trailing CR the same way a bare LF terminator is trimmed. The
// capacity pre-sizing avoids reallocating the spans slice for the
// common case of one line per terminator.
func buildLineSpans(data []byte) []span {
	spans := make([]span, 0, bytes.Count(data, []byte{'\n'})+1)
	start := 0
	for start < len(data) {
		idx := bytes.IndexByte(data[start:], '\n')
		end := len(data)
		next := len(data)
		if idx >= 0 {
			end = start + idx
			next = end + 1
		}
		if end > start && data[end-1] == '\r' {
			end--
		}
		spans = append(spans, span{start: start, end: end})
		start = next
	}
	return spans
}

// Search runs req against every file in c that passes the path
// restriction and glob filters, honoring ctx's deadline, and returns
// the serialized, globally ordered, ceiling-enforced output.
func (e *Engine) Search(ctx context.Context, c *cache.CodebaseCache, req Request, limits Limits) (Result, error) {
	re, err := compilePattern(req.Pattern, req.Options)
	if err != nil {
		return Result{}, err
	}

	workers := req.Options.Threads
	if workers <= 0 {
		workers = e.defaultWorkers
	}

	filter := newGlobFilter(req.Options.IncludeGlobs, req.Options.ExcludeGlobs)
	files := selectFiles(c, req.Paths, filter)

	results := make([]fileResult, len(files))
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	for i, mf := range files {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, mf *cache.MappedFile) {
			defer wg.Done()
			if sem.Acquire(ctx, 1) != nil {
				return
			}
			defer sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			results[i] = scanFile(ctx, mf.Path, c.Root, mf.Bytes(), re, req.Options)
		}(i, mf)
	}
	wg.Wait()

	return mergeAndRender(results, req.Options, limits, ctx.Err() != nil), nil
}

// selectFiles narrows c's file list to those matching req's path
// restriction and glob filters, preserving the cache's walker order.
func selectFiles(c *cache.CodebaseCache, pathFilters []string, filter globFilter) []*cache.MappedFile {
	var out []*cache.MappedFile
	for _, mf := range c.Files() {
		if len(pathFilters) > 0 && !matchesAnyPrefix(mf.Path, pathFilters) {
			continue
		}
		rel := pathutil.ToRelative(mf.Path, c.Root)
		if !filter.allows(rel) {
			continue
		}
		out = append(out, mf)
	}
	return out
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if pathutil.IsWithinRoot(path, p) {
			return true
		}
	}
	return false
}

// scanFile runs re over a single mapped buffer and returns its ordered
// output lines (matches plus any before/after context). In line mode the
// scan stops at the first line boundary after ctx is done; a multiline
// scan runs over the whole buffer in one call.
func scanFile(ctx context.Context, absPath, root string, data []byte, re *regexp.Regexp, opts Options) fileResult {
	spans := buildLineSpans(data)
	if len(spans) == 0 {
		return fileResult{relPath: pathutil.ToRelative(absPath, root)}
	}

	matchCols := make(map[int]int) // 0-based line index -> 1-based column of first submatch
	var matchedLines []int

	if opts.Multiline {
		matchedLines, matchCols = multilineMatches(data, spans, re, opts.MaxCount)
	} else {
		for i, sp := range spans {
			if ctx.Err() != nil {
				break
			}
			loc := re.FindIndex(data[sp.start:sp.end])
			if loc == nil {
				continue
			}
			matchedLines = append(matchedLines, i)
			matchCols[i] = loc[0] + 1
			if opts.MaxCount > 0 && len(matchedLines) >= opts.MaxCount {
				break
			}
		}
	}

	before, after := opts.beforeAfter()
	kind := make(map[int]bool) // true = genuine match, false = context
	for _, i := range matchedLines {
		kind[i] = true
		for c := i - before; c < i; c++ {
			if c >= 0 {
				if _, exists := kind[c]; !exists {
					kind[c] = false
				}
			}
		}
		for c := i + 1; c <= i+after && c < len(spans); c++ {
			if _, exists := kind[c]; !exists {
				kind[c] = false
			}
		}
	}

	indices := make([]int, 0, len(kind))
	for i := range kind {
		indices = append(indices, i)
	}
	sortInts(indices)

	lines := make([]lineOutput, 0, len(indices))
	for _, i := range indices {
		sp := spans[i]
		lines = append(lines, lineOutput{
			lineNum:   i + 1,
			text:      strings.ToValidUTF8(string(data[sp.start:sp.end]), "�"),
			column:    matchCols[i],
			byteOffs:  int64(sp.start),
			isContext: !kind[i],
		})
	}

	return fileResult{relPath: pathutil.ToRelative(absPath, root), lines: lines}
}

// multilineMatches finds matches that may span multiple lines (the
// "." matches newline too" mode) and reports every line index each
// match touches, plus the column of the first submatch's starting
// line.
func multilineMatches(data []byte, spans []span, re *regexp.Regexp, maxCount int) ([]int, map[int]int) {
	var lines []int
	cols := make(map[int]int)
	seen := make(map[int]bool)

	locs := re.FindAllIndex(data, -1)
	count := 0
	for _, loc := range locs {
		if maxCount > 0 && count >= maxCount {
			break
		}
		count++

		startLine := lineIndexForOffset(spans, loc[0])
		endOffset := loc[1] - 1
		if endOffset < loc[0] {
			endOffset = loc[0]
		}
		endLine := lineIndexForOffset(spans, endOffset)

		if _, ok := cols[startLine]; !ok {
			cols[startLine] = loc[0] - spans[startLine].start + 1
		}
		for i := startLine; i <= endLine; i++ {
			if !seen[i] {
				seen[i] = true
				lines = append(lines, i)
			}
		}
	}
	return lines, cols
}

func lineIndexForOffset(spans []span, offset int) int {
	l, r := 0, len(spans)-1
	for l < r {
		m := (l + r + 1) / 2
		if spans[m].start <= offset {
			l = m
		} else {
			r = m - 1
		}
	}
	return l
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// mergeAndRender concatenates each file's rendered lines in cache
// order (file-order-rank, then ascending line number within a file),
// enforcing the query-wide match/byte ceilings, and appends the
// spec-mandated truncation marker on overflow. timedOut forces a
// time-limit truncation regardless of remaining budget.
func mergeAndRender(results []fileResult, opts Options, limits Limits, timedOut bool) Result {
	var b strings.Builder
	matches, bytesWritten := 0, 0
	truncReason := ""
	before, after := opts.beforeAfter()
	separateGroups := before > 0 || after > 0

outer:
	for _, fr := range results {
		lastLine := -1
		for _, ln := range fr.lines {
			if !ln.isContext {
				matches++
				if limits.MaxMatches > 0 && matches > limits.MaxMatches {
					truncReason = "max matches"
					break outer
				}
			}

			rendered := ""
			if separateGroups && lastLine != -1 && ln.lineNum != lastLine+1 {
				rendered = "\n"
			}
			rendered += formatLine(fr.relPath, ln, opts) + "\n"
			lastLine = ln.lineNum

			if limits.MaxBytes > 0 && bytesWritten+len(rendered) > limits.MaxBytes {
				truncReason = "max output bytes"
				break outer
			}

			b.WriteString(rendered)
			bytesWritten += len(rendered)
		}
	}

	if timedOut && truncReason == "" {
		truncReason = "time limit"
	}
	if truncReason != "" {
		b.WriteString(truncationMarker(truncReason))
	}

	return Result{Text: b.String(), Truncated: truncReason != ""}
}
