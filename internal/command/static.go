package command

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/proto"
)

// StaticFiles is the file-serving command extension behind the
// "/static/" path prefix. Every requested path is resolved against a
// whitelist of allowed base directories, null bytes are rejected, and
// files above the configured size cap are refused before reading.
type StaticFiles struct {
	roots       []string
	maxFileSize atomic.Int64
}

// NewStaticFiles builds the extension. roots are made absolute at
// construction; a root that cannot be resolved is dropped.
func NewStaticFiles(roots []string, maxFileSize int64) *StaticFiles {
	s := &StaticFiles{}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			s.roots = append(s.roots, abs)
		}
	}
	s.maxFileSize.Store(maxFileSize)
	return s
}

func (s *StaticFiles) Name() string { return "static" }

func (s *StaticFiles) Options() []extension.Option {
	return []extension.Option{
		{Key: "server.max_file_size", Default: "67108864",
			HelpText: "per-file byte cap for the static file endpoint"},
	}
}

func (s *StaticFiles) SetOption(key, value string) error {
	if key != "server.max_file_size" {
		return proto.NewError(proto.ErrNotFound, "static: unknown option %q", key)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return proto.NewError(proto.ErrBadRequest, "server.max_file_size: invalid value %q", value)
	}
	s.maxFileSize.Store(n)
	return nil
}

func (s *StaticFiles) GetOption(key string) (string, error) {
	if key != "server.max_file_size" {
		return "", proto.NewError(proto.ErrNotFound, "static: unknown option %q", key)
	}
	return strconv.FormatInt(s.maxFileSize.Load(), 10), nil
}

func (s *StaticFiles) PathPrefixes() []string { return []string{"/static/"} }

func (s *StaticFiles) HandleCall(path string, params map[string]string, body []byte) ([]byte, error) {
	rel := strings.TrimPrefix(path, "/static/")
	resolved, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, proto.NewError(proto.ErrNotFound, "static: %q not found", rel)
	}
	if info.IsDir() {
		return nil, proto.NewError(proto.ErrForbidden, "static: %q is a directory", rel)
	}
	if max := s.maxFileSize.Load(); info.Size() > max {
		return nil, proto.NewError(proto.ErrForbidden,
			"static: %q is %d bytes, above the %d byte cap", rel, info.Size(), max)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, proto.NewError(proto.ErrRuntimeFault, "static: read %q: %v", rel, err)
	}
	return data, nil
}

// Resolve maps a requested relative path to an absolute file path
// inside one of the whitelisted roots, rejecting null bytes and any
// traversal that escapes every root.
func (s *StaticFiles) Resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", proto.NewError(proto.ErrBadRequest, "static: path contains a null byte")
	}
	cleaned := filepath.Clean("/" + rel) // forces traversal to resolve before the join
	contained := false
	for _, root := range s.roots {
		candidate := filepath.Join(root, cleaned)
		if candidate == root || strings.HasPrefix(candidate, root+string(filepath.Separator)) {
			contained = true
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	if contained {
		return "", proto.NewError(proto.ErrNotFound, "static: %q not found", rel)
	}
	return "", proto.NewError(proto.ErrForbidden, "static: %q is outside every allowed directory", rel)
}
