package langprovider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveBuiltins(t *testing.T) {
	r := NewRegistry()
	p, err := r.Resolve(LanguageTriple{Language: "cpp", Dialect: "gnu", Version: "c++17"})
	require.NoError(t, err)
	require.False(t, p.Interpreted())
}

func TestResolveMissingReturnsLanguageNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(LanguageTriple{Language: "rust", Dialect: "rustc", Version: "2021"})
	require.Error(t, err)
	var notFound ErrLanguageNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestPythonProviderIsInterpreted(t *testing.T) {
	r := NewRegistry()
	for _, version := range []string{"3", "3.6", "3.7", "3.8"} {
		p, err := r.Resolve(LanguageTriple{Language: "python", Dialect: "cpython", Version: version})
		require.NoError(t, err)
		require.True(t, p.Interpreted())
	}
}

func TestCProviderVersions(t *testing.T) {
	r := NewRegistry()
	for _, version := range []string{"c99", "c11", "c17"} {
		p, err := r.Resolve(LanguageTriple{Language: "c", Dialect: "gnu", Version: version})
		require.NoError(t, err)
		require.False(t, p.Interpreted())

		ci, err := p.CompilationInfo("/tmp/sub.src", "/tmp/out")
		require.NoError(t, err)
		require.Contains(t, ci.Argv, "-std="+version)
		require.Contains(t, ci.Argv, "-DONLINE_JUDGE")
	}
}

func TestRustProviderResolves(t *testing.T) {
	r := NewRegistry()
	p, err := r.Resolve(LanguageTriple{Language: "rust", Dialect: "rust", Version: "39"})
	require.NoError(t, err)
	require.False(t, p.Interpreted())

	ci, err := p.CompilationInfo("/tmp/sub.src", "/tmp/out")
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/rustc", ci.CompilerPath)
}
