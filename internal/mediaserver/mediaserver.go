package mediaserver

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"reelscript-gateway/internal/platform/metrics"
)

// Prefix is the URL prefix the server expects to be mounted under.
const Prefix = "/videos/"

const cacheControl = "public, max-age=3600"

// mimeTypes maps known media file extensions to their content type.
// Anything else is served as application/octet-stream.
var mimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
}

// rangeRe matches a single-range header of the form "bytes=<start>-[<end>]".
// Anything else (multi-range, suffix ranges) is ignored and the full file is
// served.
var rangeRe = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// Server serves media files from a flat directory with byte-range support.
// Filenames are a single path segment; subdirectories are never served.
type Server struct {
	root    string
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Server that serves files from root. Metrics may be nil to
// disable byte accounting (e.g. in tests).
func New(root string, log *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{root: root, log: log, metrics: m}
}

// ServeHTTP handles GET <Prefix><filename>. It validates the decoded
// filename, stats the file, emits cache headers, and streams either the full
// body or the requested byte range from disk.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name, err := filename(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.root, name)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		// Missing, unreadable, or a directory: the client only sees 404.
		w.WriteHeader(http.StatusNotFound)
		return
	}
	size := fi.Size()

	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("ETag", etag(fi))

	start, end, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		s.serveFull(w, path, size)
		return
	}
	if start >= size || end < start {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	s.servePartial(w, path, start, end, size)
}

func (s *Server) serveFull(w http.ResponseWriter, path string, size int64) {
	f, err := os.Open(path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, f)
	if s.metrics != nil {
		s.metrics.AddVideoBytes(n)
	}
	if err != nil {
		// Client went away mid-stream; nothing left to clean up beyond the
		// deferred close.
		s.log.Debug("video stream aborted", slog.String("file", path), slog.String("error", err.Error()))
	}
}

func (s *Server) servePartial(w http.ResponseWriter, path string, start, end, size int64) {
	f, err := os.Open(path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	n, err := io.CopyN(w, f, length)
	if s.metrics != nil {
		s.metrics.AddVideoBytes(n)
	}
	if err != nil {
		s.log.Debug("video range stream aborted", slog.String("file", path), slog.String("error", err.Error()))
	}
}

// filename extracts and validates the decoded filename from the request path.
// The raw (still-escaped) path is used so that an encoded slash in the
// segment is caught rather than silently treated as a subdirectory.
func filename(r *http.Request) (string, error) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), Prefix)
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("undecodable filename: %w", err)
	}
	if name == "" {
		return "", fmt.Errorf("empty filename")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("filename escapes media directory: %q", name)
	}
	return name, nil
}

// etag derives a cache validation token from the file's modification time and
// size, both base-36. Replacing a file (re-encode, re-download) changes the
// token without any explicit version counter.
func etag(fi os.FileInfo) string {
	return `"` + strconv.FormatInt(fi.ModTime().UnixMilli(), 36) + "-" + strconv.FormatInt(fi.Size(), 36) + `"`
}

func contentType(name string) string {
	if ct, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// parseRange parses a "bytes=<start>-[<end>]" header. A missing end defaults
// to the last byte; an end past EOF is clamped. ok is false when the header
// is absent or not in single-range form, meaning the full file should be
// served.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	m := rangeRe.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end = size - 1
	if m[2] != "" {
		end, err = strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return start, end, true
}
