package resolver

import (
	"os"
	"path/filepath"
	"strings"
)

// stdlibModules are Python standard-library namespaces a project never
// defines itself.
var stdlibModules = map[string]bool{
	"os": true, "sys": true, "json": true, "ast": true, "re": true,
	"typing": true, "pathlib": true, "collections": true,
	"itertools": true, "functools": true, "datetime": true,
	"unittest": true, "pytest": true, "asyncio": true,
}

// thirdPartyPrefixes are framework namespaces resolved by pip, not by the
// project tree.
var thirdPartyPrefixes = []string{
	"django", "flask", "fastapi", "pydantic", "sqlalchemy",
	"requests", "httpx", "pytest", "unittest", "mock",
}

var entryFiles = []string{"main.py", "app.py", "server.py", "api.py", "__init__.py"}

// ModuleResolver maps dotted module paths to files under a project root.
type ModuleResolver struct {
	root string
}

func NewModuleResolver(root string) *ModuleResolver {
	return &ModuleResolver{root: root}
}

// IsSkippable reports whether a module belongs to the standard library or
// a known third-party namespace.
func (m *ModuleResolver) IsSkippable(module string) bool {
	if module == "" {
		return true
	}
	if stdlibModules[strings.Split(module, ".")[0]] {
		return true
	}
	for _, prefix := range thirdPartyPrefixes {
		if strings.HasPrefix(module, prefix) {
			return true
		}
	}
	return false
}

// Resolve tries the candidate path shapes in order and returns the first
// one that exists under the root, as a slash-separated relative path.
func (m *ModuleResolver) Resolve(module string) (string, bool) {
	if module == "" {
		return "", false
	}
	for _, candidate := range moduleCandidates(module) {
		full := filepath.Join(m.root, filepath.FromSlash(candidate))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// moduleCandidates lists the path shapes a dotted module may live at, most
// specific first, ending with the conventional single-app entry files.
func moduleCandidates(module string) []string {
	parts := strings.Split(module, ".")
	slashed := strings.Join(parts, "/")

	candidates := []string{
		slashed + ".py",
		slashed + "/__init__.py",
	}
	if len(parts) > 1 {
		candidates = append(candidates,
			strings.Join(parts[1:], "/")+".py",
			parts[len(parts)-1]+".py",
			parts[0]+".py",
			parts[0]+"/"+strings.Join(parts[1:], "/")+".py",
			"src/"+slashed+".py",
		)
	}
	for _, dir := range []string{"", "app/", "src/"} {
		for _, entry := range entryFiles {
			candidates = append(candidates, dir+entry)
		}
	}
	return candidates
}
