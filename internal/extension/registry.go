package extension

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/reiase/probing/internal/proto"
)

// dottedKey matches option keys of the shape "namespace.sub.leaf", the
// convention every extension-owned option follows.
var dottedKey = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

// Registry is the process-wide table of live extensions. It owns
// collision detection on dotted option keys, option get/set dispatch,
// namespace/table lookup, and call routing.
type Registry struct {
	mu sync.RWMutex

	extensions []Extension
	// owner maps an option key to the extension that registered it.
	owner map[string]Extension
	// current holds the last value SetOption accepted for a key, so
	// GetOption reflects runtime state rather than re-asking the
	// extension (which may only know its own default).
	current map[string]string

	dataSources []DataSourceExtension
	commands    []CommandExtension
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		owner:   make(map[string]Extension),
		current: make(map[string]string),
	}
}

// Register adds ext to the registry. It fails if any of ext's declared
// option keys is malformed or already owned by a previously registered
// extension — the registry never silently shadows one extension's
// option with another's.
func (r *Registry) Register(ext Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, opt := range ext.Options() {
		if !dottedKey.MatchString(opt.Key) {
			return proto.NewError(proto.ErrBadRequest,
				"extension %q: option key %q is not a valid dotted key", ext.Name(), opt.Key)
		}
		if owner, ok := r.owner[opt.Key]; ok {
			return proto.NewError(proto.ErrConflict,
				"extension %q: option key %q already owned by extension %q", ext.Name(), opt.Key, owner.Name())
		}
	}

	for _, opt := range ext.Options() {
		r.owner[opt.Key] = ext
		r.current[opt.Key] = opt.Default
	}
	r.extensions = append(r.extensions, ext)

	if ds, ok := ext.(DataSourceExtension); ok {
		r.dataSources = append(r.dataSources, ds)
	}
	if cmd, ok := ext.(CommandExtension); ok {
		r.commands = append(r.commands, cmd)
	}
	return nil
}

// SetOption routes a set_option request to the extension that owns key
// and records the accepted value, returning the previous value. A
// later get_option observes the last successfully accepted value.
func (r *Registry) SetOption(key, value string) (previous string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ext, ok := r.owner[key]
	if !ok {
		return "", proto.NewError(proto.ErrNotFound, "no extension owns option %q", key)
	}
	for _, opt := range ext.Options() {
		if opt.Key == key && opt.ReadOnly {
			return r.current[key], proto.NewError(proto.ErrConflict, "option %q is read-only", key)
		}
	}
	if err := ext.SetOption(key, value); err != nil {
		return r.current[key], err
	}
	previous = r.current[key]
	r.current[key] = value
	return previous, nil
}

// GetOption returns the last value successfully set for key, or its
// registered default if it was never set.
func (r *Registry) GetOption(key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.owner[key]; !ok {
		return "", proto.NewError(proto.ErrNotFound, "no extension owns option %q", key)
	}
	return r.current[key], nil
}

// ListOptions returns every registered option and its current value,
// sorted by key, for the information_schema.df_settings table.
func (r *Registry) ListOptions() []proto.OptionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]proto.OptionEntry, 0, len(r.owner))
	for key := range r.owner {
		out = append(out, proto.OptionEntry{
			Key:      key,
			Value:    r.current[key],
			Owner:    r.owner[key].Name(),
			HelpText: r.helpTextLocked(key),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Namespaces lists every namespace name exposed by any registered
// data-source extension.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, ds := range r.dataSources {
		out = append(out, ds.Namespaces()...)
	}
	sort.Strings(out)
	return out
}

// Namespace resolves a namespace by name across every data-source
// extension.
func (r *Registry) Namespace(name string) (Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ds := range r.dataSources {
		if ns, ok := ds.Namespace(name); ok {
			return ns, true
		}
	}
	return nil, false
}

// DispatchCall routes a request to the first registered command
// extension whose PathPrefixes matches path.
func (r *Registry) DispatchCall(path string, params map[string]string, body []byte) ([]byte, error) {
	r.mu.RLock()
	cmds := append([]CommandExtension(nil), r.commands...)
	r.mu.RUnlock()

	for _, cmd := range cmds {
		for _, prefix := range cmd.PathPrefixes() {
			if strings.HasPrefix(path, prefix) {
				return cmd.HandleCall(path, params, body)
			}
		}
	}
	return nil, proto.NewError(proto.ErrNotFound, "no command extension handles path %q", path)
}

// helpTextLocked looks up the help text an extension declared for key.
// Caller must hold r.mu for reading.
func (r *Registry) helpTextLocked(key string) string {
	ext, ok := r.owner[key]
	if !ok {
		return ""
	}
	for _, opt := range ext.Options() {
		if opt.Key == key {
			return opt.HelpText
		}
	}
	return ""
}

// Extensions returns the names of every registered extension, in
// registration order, for diagnostics and the config table.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.extensions))
	for i, ext := range r.extensions {
		out[i] = ext.Name()
	}
	return out
}

// String renders the registry's extensions and options for logging.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("registry{extensions:%d options:%d}", len(r.extensions), len(r.owner))
}
