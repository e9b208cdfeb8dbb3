// Package protocol defines memsearchd's wire format: a 4-byte
// little-endian length prefix around a single UTF-8 JSON object, and
// the request/reply message shapes that travel inside it.
package protocol

// Request types, named by the wire "type" discriminator.
const (
	TypeAllocPid       = "alloc_pid"
	TypeReleasePid     = "release_pid"
	TypeRequestRipgrep = "request_ripgrep"
)

// Envelope is used only to peek at the "type" discriminator before
// unmarshaling into the concrete request shape.
type Envelope struct {
	Type string `json:"type"`
}

// AllocPidRequest binds a tenant to a codebase root.
type AllocPidRequest struct {
	Type        string `json:"type"`
	Pid         uint32 `json:"pid"`
	RepoDirPath string `json:"repo_dir_path"`
}

// ReleasePidRequest tears down a tenant binding.
type ReleasePidRequest struct {
	Type string `json:"type"`
	Pid  uint32 `json:"pid"`
}

// SearchOptions mirrors the wire "options" object of a request_ripgrep
// message.
type SearchOptions struct {
	LineNumber   bool     `json:"line_number,omitempty"`
	Column       bool     `json:"column,omitempty"`
	ByteOffset   bool     `json:"byte_offset,omitempty"`
	IgnoreCase   bool     `json:"ignore_case,omitempty"`
	FixedStrings bool     `json:"fixed_strings,omitempty"`
	WordRegexp   bool     `json:"word_regexp,omitempty"`
	Multiline    bool     `json:"multiline,omitempty"`
	Before       uint     `json:"before,omitempty"`
	After        uint     `json:"after,omitempty"`
	Context      uint     `json:"context,omitempty"`
	MaxCount     uint     `json:"max_count,omitempty"`
	Threads      uint     `json:"threads,omitempty"`
	IncludeGlobs []string `json:"include_globs,omitempty"`
	ExcludeGlobs []string `json:"exclude_globs,omitempty"`
}

// RequestRipgrepRequest is a search request against an already-bound tenant.
type RequestRipgrepRequest struct {
	Type    string        `json:"type"`
	Pid     uint32        `json:"pid"`
	Pattern string        `json:"pattern"`
	Paths   []string      `json:"paths,omitempty"`
	Options SearchOptions `json:"options"`
}

// Reply is the single shape every response socket message takes.
type Reply struct {
	ResponseStatus int    `json:"response_status"`
	Text           string `json:"text"`
	Error          string `json:"error,omitempty"`
}

// OK builds a successful reply.
func OK(text string) Reply {
	return Reply{ResponseStatus: 1, Text: text}
}

// Fail builds an error reply.
func Fail(errMsg string) Reply {
	return Reply{ResponseStatus: 0, Text: "", Error: errMsg}
}
