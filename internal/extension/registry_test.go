package extension_test

import (
	"testing"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/query"
	"github.com/stretchr/testify/require"
)

// fakeExt is a minimal Extension used to exercise the registry without
// depending on any concrete production extension.
type fakeExt struct {
	name    string
	opts    []extension.Option
	values  map[string]string
	rejects map[string]bool
}

func newFakeExt(name string, opts ...extension.Option) *fakeExt {
	values := make(map[string]string, len(opts))
	for _, o := range opts {
		values[o.Key] = o.Default
	}
	return &fakeExt{name: name, opts: opts, values: values, rejects: map[string]bool{}}
}

func (f *fakeExt) Name() string                { return f.name }
func (f *fakeExt) Options() []extension.Option { return f.opts }

func (f *fakeExt) SetOption(key, value string) error {
	if f.rejects[key] {
		return proto.NewError(proto.ErrBadRequest, "rejected")
	}
	f.values[key] = value
	return nil
}

func (f *fakeExt) GetOption(key string) (string, error) {
	return f.values[key], nil
}

// TestRegistrySetGetOptionRoundTrip: get_option(key) returns the last
// value a successful set_option(key, v) accepted.
func TestRegistrySetGetOptionRoundTrip(t *testing.T) {
	r := extension.NewRegistry()
	ext := newFakeExt("sampler", extension.Option{Key: "sampler.enabled", Default: "false"})
	require.NoError(t, r.Register(ext))

	got, err := r.GetOption("sampler.enabled")
	require.NoError(t, err)
	require.Equal(t, "false", got)

	prev, err := r.SetOption("sampler.enabled", "true")
	require.NoError(t, err)
	require.Equal(t, "false", prev)

	got, err = r.GetOption("sampler.enabled")
	require.NoError(t, err)
	require.Equal(t, "true", got)
}

func TestRegistrySetOptionRejectedLeavesValueUnchanged(t *testing.T) {
	r := extension.NewRegistry()
	ext := newFakeExt("sampler", extension.Option{Key: "sampler.interval_ms", Default: "10"})
	ext.rejects["sampler.interval_ms"] = true
	require.NoError(t, r.Register(ext))

	_, err := r.SetOption("sampler.interval_ms", "not-a-number")
	require.Error(t, err)

	got, err := r.GetOption("sampler.interval_ms")
	require.NoError(t, err)
	require.Equal(t, "10", got)
}

func TestRegistryUnknownOptionIsNotFound(t *testing.T) {
	r := extension.NewRegistry()
	_, err := r.GetOption("nope.nope")
	require.Error(t, err)
	pe, ok := err.(*proto.Error)
	require.True(t, ok)
	require.Equal(t, proto.ErrNotFound, pe.Category)
}

func TestRegistryRejectsDuplicateOptionKey(t *testing.T) {
	r := extension.NewRegistry()
	require.NoError(t, r.Register(newFakeExt("a", extension.Option{Key: "shared.key", Default: "1"})))

	err := r.Register(newFakeExt("b", extension.Option{Key: "shared.key", Default: "2"}))
	require.Error(t, err)
	pe, ok := err.(*proto.Error)
	require.True(t, ok)
	require.Equal(t, proto.ErrConflict, pe.Category)
}

func TestRegistryRejectsMalformedOptionKey(t *testing.T) {
	r := extension.NewRegistry()
	err := r.Register(newFakeExt("a", extension.Option{Key: "Not.Lowercase", Default: "1"}))
	require.Error(t, err)
}

// fakeDataSource is a minimal DataSourceExtension wrapping one in-memory
// namespace, used to exercise Registry.Namespace/Namespaces.
type fakeDataSource struct {
	*fakeExt
	ns map[string]extension.Namespace
}

func (f *fakeDataSource) Namespaces() []string {
	out := make([]string, 0, len(f.ns))
	for name := range f.ns {
		out = append(out, name)
	}
	return out
}

func (f *fakeDataSource) Namespace(name string) (extension.Namespace, bool) {
	ns, ok := f.ns[name]
	return ns, ok
}

type fakeNamespace struct {
	tables map[string]query.Table
}

func (n *fakeNamespace) Tables() []string {
	out := make([]string, 0, len(n.tables))
	for name := range n.tables {
		out = append(out, name)
	}
	return out
}

func (n *fakeNamespace) Table(name string) (query.Table, bool) {
	t, ok := n.tables[name]
	return t, ok
}

func TestRegistryNamespaceLookup(t *testing.T) {
	r := extension.NewRegistry()
	ds := &fakeDataSource{
		fakeExt: newFakeExt("series"),
		ns: map[string]extension.Namespace{
			"series": &fakeNamespace{tables: map[string]query.Table{}},
		},
	}
	require.NoError(t, r.Register(ds))

	ns, ok := r.Namespace("series")
	require.True(t, ok)
	require.NotNil(t, ns)

	_, ok = r.Namespace("missing")
	require.False(t, ok)
}

func TestRegistryDispatchCallRoutesToOwningExtension(t *testing.T) {
	r := extension.NewRegistry()
	handled := false
	cmd := &fakeCommandExt{
		fakeExt:  newFakeExt("sampler"),
		prefixes: []string{"/flamegraph"},
		handle: func(path string, params map[string]string, body []byte) ([]byte, error) {
			handled = true
			return []byte("ok"), nil
		},
	}
	require.NoError(t, r.Register(cmd))

	out, err := r.DispatchCall("/flamegraph/render", nil, nil)
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, []byte("ok"), out)

	_, err = r.DispatchCall("/unrelated", nil, nil)
	require.Error(t, err)
}

type fakeCommandExt struct {
	*fakeExt
	prefixes []string
	handle   func(path string, params map[string]string, body []byte) ([]byte, error)
}

func (f *fakeCommandExt) PathPrefixes() []string { return f.prefixes }
func (f *fakeCommandExt) HandleCall(path string, params map[string]string, body []byte) ([]byte, error) {
	return f.handle(path, params, body)
}
