// Package extension implements the registry that holds every live
// extension (data-source and/or command capability), mediates option
// get/set, and routes table lookups and call dispatch to the extension
// that owns them.
package extension

import (
	"github.com/reiase/probing/internal/query"
)

// Option describes one statically-declared dotted option key an
// extension owns.
type Option struct {
	Key      string
	Default  string
	HelpText string
	// ReadOnly options can be read but never set via SetOption.
	ReadOnly bool
}

// Namespace is the Go shape of the data model's "Namespace": a logical
// grouping that owns a discoverable set of table names. It is a type
// alias of query.Namespace (rather than a structurally-identical twin)
// so that *Registry satisfies query.Catalog directly, without an
// adapter shim at the query/extension seam.
type Namespace = query.Namespace

// Extension is a registered capability set: a stable name, a static
// option table, and optionally a command handler and/or data-source
// provider.
type Extension interface {
	Name() string
	Options() []Option

	// SetOption is called by the registry after it has verified this
	// extension owns key. Implementations validate the new value and
	// return an error (wrapped as *proto.Error) to reject it.
	SetOption(key, value string) error

	// GetOption returns the current value of a key this extension owns.
	GetOption(key string) (string, error)
}

// DataSourceExtension is implemented by extensions that expose one or
// more namespaces of tables.
type DataSourceExtension interface {
	Extension
	// Namespaces lists the namespace names this extension provides.
	Namespaces() []string
	// Namespace returns the handle for a namespace this extension owns.
	Namespace(name string) (Namespace, bool)
}

// CommandExtension is implemented by extensions that handle
// dispatch_call requests under a path prefix.
type CommandExtension interface {
	Extension
	// PathPrefixes lists the path prefixes this extension's handler
	// answers (e.g. "/flamegraph").
	PathPrefixes() []string
	HandleCall(path string, params map[string]string, body []byte) ([]byte, error)
}

