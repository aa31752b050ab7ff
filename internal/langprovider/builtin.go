package langprovider

import (
	"fmt"
	"path/filepath"
)

// builtinProviders returns the providers available without any dylib: the
// gnu-dialect C and C++ toolchains across their supported standard versions,
// CPython, and rustc. Java support requires an external jar-packaging
// compile script and so ships as a dylib plugin, not a built-in.
func builtinProviders() []LanguageProvider {
	providers := []LanguageProvider{
		pythonProvider{version: "3"},
		pythonProvider{version: "3.6"},
		pythonProvider{version: "3.7"},
		pythonProvider{version: "3.8"},
		rustProvider{},
	}
	for _, v := range []string{"c99", "c11", "c17"} {
		providers = append(providers, cxxProvider{language: "c", version: v, compiler: "/usr/bin/gcc"})
	}
	for _, v := range []string{"c++11", "c++14", "c++17"} {
		providers = append(providers, cxxProvider{language: "cpp", version: v, compiler: "/usr/bin/g++"})
	}
	return providers
}

// cxxProvider compiles C and C++ with the gnu toolchain, parametrized over
// the language standard version.
type cxxProvider struct {
	language string
	version  string
	compiler string
}

func (p cxxProvider) Triple() LanguageTriple {
	return LanguageTriple{Language: p.language, Dialect: "gnu", Version: p.version}
}

func (p cxxProvider) Interpreted() bool { return false }

func (p cxxProvider) CompilationInfo(srcPath, outDir string) (CompilationInfo, error) {
	out := filepath.Join(outDir, "main")
	lang := "c"
	if p.language == "cpp" {
		lang = "c++"
	}
	return CompilationInfo{
		CompilerPath: p.compiler,
		// -x: submission sources arrive under generated names whose
		// extension the compiler would not recognize.
		Argv: []string{
			filepath.Base(p.compiler),
			"-O2",
			"-std=" + p.version,
			"-DONLINE_JUDGE",
			"-x", lang,
			"-o", out,
			srcPath,
		},
		OutputPath: out,
	}, nil
}

func (p cxxProvider) ExecutionInfo(exePath string) (ExecutionInfo, error) {
	return ExecutionInfo{ExecutablePath: exePath, Argv: []string{exePath}}, nil
}

// pythonProvider runs submissions under the CPython interpreter matching the
// requested version ("3" resolves to the system python3).
type pythonProvider struct {
	version string
}

func (p pythonProvider) Triple() LanguageTriple {
	return LanguageTriple{Language: "python", Dialect: "cpython", Version: p.version}
}

func (p pythonProvider) Interpreted() bool { return true }

func (p pythonProvider) CompilationInfo(srcPath, outDir string) (CompilationInfo, error) {
	// Interpreted languages short-circuit in the judge engine before this
	// is ever called; present for interface completeness.
	return CompilationInfo{OutputPath: srcPath}, nil
}

func (p pythonProvider) ExecutionInfo(exePath string) (ExecutionInfo, error) {
	interpreter := fmt.Sprintf("/usr/bin/python%s", p.version)
	return ExecutionInfo{
		ExecutablePath: interpreter,
		Argv:           []string{filepath.Base(interpreter), "-OO", "-B", exePath},
	}, nil
}

// rustProvider compiles with rustc. The single registered branch mirrors the
// one toolchain revision the judge environment pins.
type rustProvider struct{}

func (rustProvider) Triple() LanguageTriple {
	return LanguageTriple{Language: "rust", Dialect: "rust", Version: "39"}
}

func (rustProvider) Interpreted() bool { return false }

func (rustProvider) CompilationInfo(srcPath, outDir string) (CompilationInfo, error) {
	out := filepath.Join(outDir, "main")
	return CompilationInfo{
		CompilerPath: "/usr/bin/rustc",
		Argv: []string{
			"rustc",
			"-C", "opt-level=2",
			"--cfg", "online_judge",
			"-o", out,
			srcPath,
		},
		OutputPath: out,
	}, nil
}

func (rustProvider) ExecutionInfo(exePath string) (ExecutionInfo, error) {
	return ExecutionInfo{ExecutablePath: exePath, Argv: []string{exePath}}, nil
}
