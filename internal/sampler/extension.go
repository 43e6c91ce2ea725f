package sampler

import (
	"context"
	"strconv"
	"strings"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/query"
)

// Extension wraps a Sampler as a registered agent extension: options
// toggle start/stop/interval/native-unwind, the `/flamegraph` command
// endpoint renders the current aggregation, and `sampler.frames`
// exposes the per-frame table.
type Extension struct {
	s *Sampler
}

// NewExtension wires sampler into the extension registry.
func NewExtension(s *Sampler) *Extension { return &Extension{s: s} }

func (e *Extension) Name() string { return "sampler" }

func (e *Extension) Options() []extension.Option {
	return []extension.Option{
		{Key: "script.sampler.enabled", Default: "false",
			HelpText: "start or stop the stack-sampling profiler"},
		{Key: "script.sampler.interval_ms", Default: strconv.Itoa(defaultIntervalMS),
			HelpText: "sampling interval in milliseconds"},
		{Key: "script.sampler.native_unwind", Default: "false",
			HelpText: "include native (non-interpreted) frames in captured stacks"},
	}
}

func (e *Extension) SetOption(key, value string) error {
	switch key {
	case "script.sampler.enabled":
		switch value {
		case "true", "1":
			e.s.Start()
		case "false", "0":
			e.s.Stop()
		default:
			return proto.NewError(proto.ErrBadRequest, "script.sampler.enabled: expected true/false, got %q", value)
		}
		return nil
	case "script.sampler.interval_ms":
		ms, err := strconv.Atoi(value)
		if err != nil || ms <= 0 {
			return proto.NewError(proto.ErrBadRequest, "script.sampler.interval_ms: invalid value %q", value)
		}
		e.s.SetInterval(ms)
		return nil
	case "script.sampler.native_unwind":
		switch value {
		case "true", "1":
			e.s.SetNativeUnwind(true)
		case "false", "0":
			e.s.SetNativeUnwind(false)
		default:
			return proto.NewError(proto.ErrBadRequest, "script.sampler.native_unwind: expected true/false, got %q", value)
		}
		return nil
	default:
		return proto.NewError(proto.ErrNotFound, "sampler: unknown option %q", key)
	}
}

func (e *Extension) GetOption(key string) (string, error) {
	switch key {
	case "script.sampler.enabled":
		return strconv.FormatBool(e.s.Running()), nil
	case "script.sampler.interval_ms":
		return strconv.Itoa(e.s.IntervalMS()), nil
	case "script.sampler.native_unwind":
		return strconv.FormatBool(e.s.NativeUnwind()), nil
	default:
		return "", proto.NewError(proto.ErrNotFound, "sampler: unknown option %q", key)
	}
}

// --- DataSourceExtension ---

func (e *Extension) Namespaces() []string { return []string{"sampler"} }

func (e *Extension) Namespace(name string) (extension.Namespace, bool) {
	if name != "sampler" {
		return nil, false
	}
	return samplerNamespace{e: e}, true
}

type samplerNamespace struct{ e *Extension }

func (n samplerNamespace) Tables() []string { return []string{"frames"} }

func (n samplerNamespace) Table(name string) (query.Table, bool) {
	if name != "frames" {
		return nil, false
	}
	return &framesTable{s: n.e.s}, true
}

type framesTable struct{ s *Sampler }

func (t *framesTable) Schema() proto.Schema {
	return proto.Schema{
		{Name: "path", Type: proto.TypeString},
		{Name: "exclusive", Type: proto.TypeInt64},
		{Name: "inclusive", Type: proto.TypeInt64},
	}
}

func (t *framesTable) Scan(ctx context.Context, opts query.ScanOptions) (query.PageIterator, error) {
	rows := t.s.Frames()
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	paths := make([]string, len(rows))
	excl := make([]int64, len(rows))
	incl := make([]int64, len(rows))
	for i, r := range rows {
		paths[i] = r.Path
		excl[i] = int64(r.Exclusive)
		incl[i] = int64(r.Inclusive)
	}
	page := proto.Page{Columns: []proto.Column{
		{Name: "path", Type: proto.TypeString, Strings: paths},
		{Name: "exclusive", Type: proto.TypeInt64, Ints: excl},
		{Name: "inclusive", Type: proto.TypeInt64, Ints: incl},
	}}
	return query.NewSliceIterator(query.Paginate(page)), nil
}

// --- CommandExtension ---

func (e *Extension) PathPrefixes() []string { return []string{"/flamegraph"} }

func (e *Extension) HandleCall(path string, params map[string]string, body []byte) ([]byte, error) {
	if !strings.HasPrefix(path, "/flamegraph") {
		return nil, proto.NewError(proto.ErrNotFound, "sampler: unknown path %q", path)
	}
	return e.s.Flamegraph(), nil
}
