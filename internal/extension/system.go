package extension

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/query"
)

// SystemExtension is the always-registered built-in extension providing
// the `system` namespace (process/runtime metadata) and the
// `information_schema` namespace that surfaces the registry's own
// option table as a queryable `df_settings` table. It takes no options
// of its own — its only job is to expose the registry it is attached
// to.
type SystemExtension struct {
	reg   *Registry
	start time.Time
}

// NewSystemExtension wires a SystemExtension to reg. The registry itself
// is registered as the extension's backing store, so df_settings always
// reflects the registry's live state rather than a stale snapshot.
func NewSystemExtension(reg *Registry) *SystemExtension {
	return &SystemExtension{reg: reg, start: time.Now()}
}

func (e *SystemExtension) Name() string      { return "system" }
func (e *SystemExtension) Options() []Option { return nil }
func (e *SystemExtension) SetOption(string, string) error {
	return proto.NewError(proto.ErrNotFound, "system: extension owns no options")
}
func (e *SystemExtension) GetOption(string) (string, error) {
	return "", proto.NewError(proto.ErrNotFound, "system: extension owns no options")
}

func (e *SystemExtension) Namespaces() []string {
	return []string{"system", "information_schema"}
}

func (e *SystemExtension) Namespace(name string) (Namespace, bool) {
	switch name {
	case "system":
		return systemNamespace{e: e}, true
	case "information_schema":
		return infoSchemaNamespace{reg: e.reg}, true
	default:
		return nil, false
	}
}

type systemNamespace struct{ e *SystemExtension }

func (n systemNamespace) Tables() []string { return []string{"process"} }

func (n systemNamespace) Table(name string) (query.Table, bool) {
	if name != "process" {
		return nil, false
	}
	return &processTable{e: n.e}, true
}

// processTable is a single-row static table of process/runtime
// metadata.
type processTable struct{ e *SystemExtension }

func (t *processTable) Schema() proto.Schema {
	return proto.Schema{
		{Name: "pid", Type: proto.TypeInt64},
		{Name: "uptime_seconds", Type: proto.TypeFloat64},
		{Name: "num_goroutines", Type: proto.TypeInt64},
		{Name: "go_version", Type: proto.TypeString},
		{Name: "os", Type: proto.TypeString},
		{Name: "arch", Type: proto.TypeString},
	}
}

func (t *processTable) Scan(ctx context.Context, opts query.ScanOptions) (query.PageIterator, error) {
	page := proto.Page{Columns: []proto.Column{
		{Name: "pid", Type: proto.TypeInt64, Ints: []int64{int64(os.Getpid())}},
		{Name: "uptime_seconds", Type: proto.TypeFloat64, Floats: []float64{time.Since(t.e.start).Seconds()}},
		{Name: "num_goroutines", Type: proto.TypeInt64, Ints: []int64{int64(runtime.NumGoroutine())}},
		{Name: "go_version", Type: proto.TypeString, Strings: []string{runtime.Version()}},
		{Name: "os", Type: proto.TypeString, Strings: []string{runtime.GOOS}},
		{Name: "arch", Type: proto.TypeString, Strings: []string{runtime.GOARCH}},
	}}
	return query.NewSliceIterator(query.Paginate(page)), nil
}

type infoSchemaNamespace struct{ reg *Registry }

func (n infoSchemaNamespace) Tables() []string { return []string{"df_settings"} }

func (n infoSchemaNamespace) Table(name string) (query.Table, bool) {
	if name != "df_settings" {
		return nil, false
	}
	return &dfSettingsTable{reg: n.reg}, true
}

// dfSettingsTable surfaces Registry.ListOptions as the
// information_schema.df_settings table.
type dfSettingsTable struct {
	reg *Registry
}

func (t *dfSettingsTable) Schema() proto.Schema {
	return proto.Schema{
		{Name: "name", Type: proto.TypeString},
		{Name: "value", Type: proto.TypeString},
		{Name: "owning_extension", Type: proto.TypeString},
		{Name: "help_text", Type: proto.TypeString},
	}
}

func (t *dfSettingsTable) Scan(ctx context.Context, opts query.ScanOptions) (query.PageIterator, error) {
	entries := t.reg.ListOptions()
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	names := make([]string, len(entries))
	values := make([]string, len(entries))
	owners := make([]string, len(entries))
	help := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Key
		values[i] = e.Value
		owners[i] = e.Owner
		help[i] = e.HelpText
	}
	page := proto.Page{Columns: []proto.Column{
		{Name: "name", Type: proto.TypeString, Strings: names},
		{Name: "value", Type: proto.TypeString, Strings: values},
		{Name: "owning_extension", Type: proto.TypeString, Strings: owners},
		{Name: "help_text", Type: proto.TypeString, Strings: help},
	}}
	return query.NewSliceIterator(query.Paginate(page)), nil
}
