package cache

import (
	"bytes"
	"path/filepath"
	"strings"
)

// binarySniffWindow is the number of leading bytes inspected for a NUL
// byte, matching ripgrep's own default binary-detection heuristic.
const binarySniffWindow = 8 * 1024

// binaryExtensions is a fast pre-filter: files with these extensions are
// skipped without ever being opened. It is a cheap win on top of the NUL
// byte heuristic, not a replacement for it — the heuristic still runs on
// anything this table doesn't recognize.
var binaryExtensions = map[string]bool{
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".tiff": true, ".tif": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".7z": true, ".rar": true, ".jar": true, ".war": true, ".ear": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".o": true, ".obj": true, ".bin": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".wav": true, ".flac": true, ".ogg": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
	".pyc": true, ".pyo": true, ".class": true, ".pickle": true, ".pkl": true,
}

// looksBinaryByExtension reports whether path's extension is in the known
// binary table. Unknown or text extensions (including .svg, .min.js,
// .min.css, .proto) are never flagged here.
func looksBinaryByExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	return binaryExtensions[ext]
}

// looksBinaryByContent reports whether the first binarySniffWindow bytes
// of sample contain a NUL byte. sample is expected to already be capped
// to that window by the caller.
func looksBinaryByContent(sample []byte) bool {
	return bytes.IndexByte(sample, 0) != -1
}
