// Package langprovider defines the language-provider capability interface
// and a registry keyed by language triple. The plug-ins themselves are
// external (loaded from dylibs); this package only owns the lookup
// boundary the judge engine depends on.
package langprovider

import (
	"fmt"
	"plugin"
	"sync"
)

// LanguageTriple identifies a language, dialect, and version, e.g.
// (cpp, gnu, c++17). Comparison is structural.
type LanguageTriple struct {
	Language string
	Dialect  string
	Version  string
}

func (t LanguageTriple) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Language, t.Dialect, t.Version)
}

// CompilationInfo is what a provider returns for a compile step: compiler
// invocation plus the path the provider promises to produce.
type CompilationInfo struct {
	CompilerPath string
	Argv         []string
	Env          []string
	OutputPath   string
}

// ExecutionInfo is what a provider returns for a run step.
type ExecutionInfo struct {
	ExecutablePath string
	Argv           []string
	Env            []string
}

// LanguageProvider is the capability interface the judge engine consumes.
// Real providers are loaded from dynamic libraries; a handful of built-ins
// are registered without one.
type LanguageProvider interface {
	Triple() LanguageTriple
	Interpreted() bool
	CompilationInfo(srcPath, outDir string) (CompilationInfo, error)
	ExecutionInfo(exePath string) (ExecutionInfo, error)
}

// ErrLanguageNotFound is returned when no provider is registered for a
// requested triple.
type ErrLanguageNotFound struct{ Triple LanguageTriple }

func (e ErrLanguageNotFound) Error() string {
	return fmt.Sprintf("langprovider: no provider registered for %s", e.Triple)
}

// Registry is a reader-writer map of loaded providers, safe for concurrent
// use: many readers resolve providers per submission, writers only run at
// dylib-load time during worker startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[LanguageTriple]LanguageProvider
	// keep loaded plugin handles alive for the registry's lifetime: their
	// backing dynamic libraries must outlive all providers loaded from them.
	handles []*plugin.Plugin
}

// NewRegistry returns an empty registry pre-populated with the built-in
// providers.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[LanguageTriple]LanguageProvider)}
	for _, p := range builtinProviders() {
		r.providers[p.Triple()] = p
	}
	return r
}

// Triples lists every triple currently registered, for callers (worker
// startup) that need to build a language-name-to-triple lookup without
// reaching into the registry's internals.
func (r *Registry) Triples() []LanguageTriple {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LanguageTriple, 0, len(r.providers))
	for t := range r.providers {
		out = append(out, t)
	}
	return out
}

// Resolve looks up the provider for a triple.
func (r *Registry) Resolve(t LanguageTriple) (LanguageProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	if !ok {
		return nil, ErrLanguageNotFound{Triple: t}
	}
	return p, nil
}

// ProviderSymbol is the exported symbol name every language dylib must
// define: a func() LanguageProvider.
const ProviderSymbol = "Provider"

// LoadDylib opens a plugin shared object and registers the LanguageProvider
// it exports under ProviderSymbol.
func (r *Registry) LoadDylib(path string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("langprovider: open %s: %w", path, err)
	}
	sym, err := p.Lookup(ProviderSymbol)
	if err != nil {
		return fmt.Errorf("langprovider: %s missing symbol %s: %w", path, ProviderSymbol, err)
	}
	ctor, ok := sym.(func() LanguageProvider)
	if !ok {
		return fmt.Errorf("langprovider: %s symbol %s has wrong type", path, ProviderSymbol)
	}
	provider := ctor()

	r.mu.Lock()
	r.providers[provider.Triple()] = provider
	r.handles = append(r.handles, p)
	r.mu.Unlock()
	return nil
}

// LoadDylibs loads every path in order, stopping at the first error.
func (r *Registry) LoadDylibs(paths []string) error {
	for _, p := range paths {
		if err := r.LoadDylib(p); err != nil {
			return err
		}
	}
	return nil
}
