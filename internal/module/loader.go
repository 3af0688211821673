// Package module implements the resolver/loader chain from spec.md §4.E:
// synthetic (host-evaluated) modules, ordered prefix loaders, an optional
// filesystem fallback, and an import-meta hook.
package module

import (
	"errors"
	"os"
	"path/filepath"
)

// Error kinds per spec.md §7.
var (
	ErrNotFound      = errors.New("module: not found")
	ErrLoadError     = errors.New("module: load error")
	ErrInvalidModule = errors.New("module: invalid module")
)

// Source is a loaded module: either parseable JS text, or (for synthetic
// modules) a host-evaluated namespace object.
type Source struct {
	ID         string
	Text       string
	IsSynthetic bool
	Evaluate   func() (map[string]any, error)
}

// Loader is the closed set of loader variants from spec.md §9 "Dynamic
// dispatch replacement": prefer a known-closed enum over an open
// interface when, as here, the variant set is fixed at build time. We
// still expose it as an interface so callers can compose their own and
// pass them to RegisterLoader; this package itself provides only the
// concrete *PrefixLoader / *FSLoader types below.
type Loader interface {
	CanHandle(id string) bool
	Resolve(id string) (string, error)
	Load(id string) (Source, error)
}

// PrefixLoader resolves/loads any specifier sharing a fixed prefix (e.g.
// "@kedo:op/"), serving source text from an in-memory map keyed by the
// full specifier.
type PrefixLoader struct {
	Prefix  string
	Sources map[string]string
}

func (l *PrefixLoader) CanHandle(id string) bool {
	return len(id) >= len(l.Prefix) && id[:len(l.Prefix)] == l.Prefix
}

func (l *PrefixLoader) Resolve(id string) (string, error) {
	if !l.CanHandle(id) {
		return "", ErrNotFound
	}
	return id, nil
}

func (l *PrefixLoader) Load(id string) (Source, error) {
	text, ok := l.Sources[id]
	if !ok {
		return Source{}, ErrNotFound
	}
	return Source{ID: id, Text: text}, nil
}

// FSLoader is the last-resort filesystem loader.
type FSLoader struct {
	Root string
}

func (l *FSLoader) CanHandle(string) bool { return true }

func (l *FSLoader) Resolve(id string) (string, error) {
	path := id
	if l.Root != "" {
		path = filepath.Join(l.Root, id)
	}
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

func (l *FSLoader) Load(id string) (Source, error) {
	data, err := os.ReadFile(id)
	if err != nil {
		return Source{}, ErrLoadError
	}
	return Source{ID: id, Text: string(data)}, nil
}

// ImportMetaProvider supplies the import.meta object for a resolved
// module id.
type ImportMetaProvider func(id string) map[string]any

// Registry is the module-loader state from spec.md §4.E: an ordered list
// of loaders, a map of registered synthetic modules, an optional
// filesystem loader, and an optional import-meta provider.
type Registry struct {
	loaders    []Loader
	synthetic  map[string]Source
	fs         *FSLoader
	importMeta ImportMetaProvider
	fsDisabled bool
}

// NewRegistry creates an empty registry. fsDisabled mirrors the engine's
// "builtin FS disabled" config flag used by Resolve's dispatch order.
func NewRegistry(fsDisabled bool) *Registry {
	return &Registry{
		synthetic:  make(map[string]Source),
		fsDisabled: fsDisabled,
	}
}

// RegisterLoader appends a loader to the dispatch chain, in priority
// order (first registered, first tried).
func (r *Registry) RegisterLoader(l Loader) { r.loaders = append(r.loaders, l) }

// SetFSLoader installs the filesystem fallback loader.
func (r *Registry) SetFSLoader(l *FSLoader) { r.fs = l }

// SetImportMetaProvider installs the import.meta hook.
func (r *Registry) SetImportMetaProvider(p ImportMetaProvider) { r.importMeta = p }

// RegisterSynthetic registers a host-evaluated virtual module under id.
func (r *Registry) RegisterSynthetic(id string, evaluate func() (map[string]any, error)) {
	r.synthetic[id] = Source{ID: id, IsSynthetic: true, Evaluate: evaluate}
}

// Resolve implements spec.md §4.E "Resolve hook": synthetic keys resolve
// to themselves; otherwise the first loader whose CanHandle matches
// wins; otherwise, if the builtin FS is disabled and an FS loader is
// present, it resolves; otherwise ErrNotFound.
func (r *Registry) Resolve(id string) (string, error) {
	if _, ok := r.synthetic[id]; ok {
		return id, nil
	}
	for _, l := range r.loaders {
		if l.CanHandle(id) {
			return l.Resolve(id)
		}
	}
	if r.fsDisabled && r.fs != nil {
		return r.fs.Resolve(id)
	}
	return "", ErrNotFound
}

// Fetch implements spec.md §4.E "Fetch hook": same dispatch as Resolve
// but returns source text. Synthetic keys are never fetched — they are
// evaluated instead, so fetching one is an error.
func (r *Registry) Fetch(id string) (string, error) {
	if _, ok := r.synthetic[id]; ok {
		return "", ErrInvalidModule
	}
	for _, l := range r.loaders {
		if l.CanHandle(id) {
			src, err := l.Load(id)
			if err != nil {
				return "", err
			}
			return src.Text, nil
		}
	}
	if r.fsDisabled && r.fs != nil {
		src, err := r.fs.Load(id)
		if err != nil {
			return "", err
		}
		return src.Text, nil
	}
	return "", ErrNotFound
}

// Evaluate implements spec.md §4.E "Evaluate hook" for a registered
// synthetic module.
func (r *Registry) Evaluate(id string) (map[string]any, error) {
	src, ok := r.synthetic[id]
	if !ok {
		return nil, ErrNotFound
	}
	ns, err := src.Evaluate()
	if err != nil {
		return nil, err
	}
	return ns, nil
}

// ImportMeta implements spec.md §4.E "Import-meta hook": if a provider is
// set, it's called with the canonical id; otherwise an empty object.
func (r *Registry) ImportMeta(id string) map[string]any {
	if r.importMeta == nil {
		return map[string]any{}
	}
	return r.importMeta(id)
}
