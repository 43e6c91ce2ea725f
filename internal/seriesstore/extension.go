package seriesstore

import (
	"strconv"
	"strings"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/proto"
)

// Extension wraps a Store as a registered agent extension: the `series`
// namespace exposes one table per series, options tune chunking and
// retention for series created after the change, and the `/series`
// command path accepts appends so remote instrumentation can feed
// metrics without a dedicated request kind.
type Extension struct {
	store *Store
}

// NewExtension wires store into the extension registry.
func NewExtension(store *Store) *Extension { return &Extension{store: store} }

func (e *Extension) Name() string { return "series" }

// Store returns the underlying store, for in-process producers (the
// agent's own metrics loops) that append directly.
func (e *Extension) Store() *Store { return e.store }

func (e *Extension) Options() []extension.Option {
	return []extension.Option{
		{Key: "series.max_chunk_rows", Default: strconv.Itoa(DefaultMaxChunkRows),
			HelpText: "row count at which a series' head chunk seals and compresses; applies to series created after the change"},
		{Key: "series.retention.max_chunks", Default: "0",
			HelpText: "sealed-chunk count cap per series, 0 for unbounded; applies to series created after the change"},
		{Key: "series.retention.max_bytes", Default: "0",
			HelpText: "total encoded-byte cap per series, 0 for unbounded; applies to series created after the change"},
	}
}

func (e *Extension) SetOption(key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return proto.NewError(proto.ErrBadRequest, "%s: invalid value %q", key, value)
	}
	switch key {
	case "series.max_chunk_rows":
		if n == 0 {
			return proto.NewError(proto.ErrBadRequest, "series.max_chunk_rows: must be positive")
		}
		e.store.SetMaxChunkRows(n)
	case "series.retention.max_chunks":
		r := e.store.Retention()
		r.MaxChunks = n
		e.store.SetRetention(r)
	case "series.retention.max_bytes":
		r := e.store.Retention()
		r.MaxTotalBytes = n
		e.store.SetRetention(r)
	default:
		return proto.NewError(proto.ErrNotFound, "series: unknown option %q", key)
	}
	return nil
}

func (e *Extension) GetOption(key string) (string, error) {
	switch key {
	case "series.max_chunk_rows":
		return strconv.Itoa(e.store.MaxChunkRows()), nil
	case "series.retention.max_chunks":
		return strconv.Itoa(e.store.Retention().MaxChunks), nil
	case "series.retention.max_bytes":
		return strconv.Itoa(e.store.Retention().MaxTotalBytes), nil
	default:
		return "", proto.NewError(proto.ErrNotFound, "series: unknown option %q", key)
	}
}

// --- DataSourceExtension ---

func (e *Extension) Namespaces() []string { return []string{"series"} }

func (e *Extension) Namespace(name string) (extension.Namespace, bool) {
	if name != "series" {
		return nil, false
	}
	return NewNamespace(e.store), true
}

// --- CommandExtension ---

func (e *Extension) PathPrefixes() []string { return []string{"/series"} }

// HandleCall services "/series/append?name=<series>&ts=<ns>&value=<f64>".
func (e *Extension) HandleCall(path string, params map[string]string, body []byte) ([]byte, error) {
	if !strings.HasPrefix(path, "/series/append") {
		return nil, proto.NewError(proto.ErrNotFound, "series: unknown path %q", path)
	}
	name := params["name"]
	if name == "" {
		return nil, proto.NewError(proto.ErrBadRequest, "series: append requires a name parameter")
	}
	ts, err := strconv.ParseInt(params["ts"], 10, 64)
	if err != nil {
		return nil, proto.NewError(proto.ErrBadRequest, "series: invalid ts %q", params["ts"])
	}
	value, err := strconv.ParseFloat(params["value"], 64)
	if err != nil {
		return nil, proto.NewError(proto.ErrBadRequest, "series: invalid value %q", params["value"])
	}
	s, err := e.store.GetOrCreate(name)
	if err != nil {
		return nil, proto.NewError(proto.ErrRuntimeFault, "series: %v", err)
	}
	if err := s.Append(ts, value); err != nil {
		return nil, err
	}
	return []byte("ok"), nil
}
