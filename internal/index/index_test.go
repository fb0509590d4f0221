package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testmend/internal/crawler"
	"testmend/internal/extractor"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func buildTestIndex(t *testing.T) *SymbolIndex {
	t.Helper()
	root := t.TempDir()

	writeFile(t, root, "app/models.py", `class Account:
    def __init__(self, owner):
        self.owner = owner

    def balance(self):
        return 0


def normalize(name):
    return name.strip()
`)
	writeFile(t, root, "app/api.py", `@app.get("/accounts/{account_id}")
def read_account(account_id):
    return {"id": account_id}


def normalize(name):
    return name.lower()
`)

	ext, err := extractor.NewExtractor("python")
	require.NoError(t, err)

	ix := NewIndexer(crawler.NewCrawler(ext))
	idx, err := ix.Build(context.Background(), root)
	require.NoError(t, err)
	return idx
}

func TestBuildIndex(t *testing.T) {
	idx := buildTestIndex(t)

	t.Run("symbols kept in discovery order", func(t *testing.T) {
		require.Equal(t, 6, idx.Len())
		var names []string
		for _, sym := range idx.Symbols {
			names = append(names, sym.Name)
		}
		assert.Equal(t, []string{"read_account", "normalize", "Account", "__init__", "balance", "normalize"}, names)
	})

	t.Run("files recorded in walk order", func(t *testing.T) {
		require.Len(t, idx.Files, 2)
		assert.Equal(t, filepath.Join("app", "api.py"), idx.Files[0])
		assert.Equal(t, filepath.Join("app", "models.py"), idx.Files[1])
	})

	t.Run("lookup by file and name", func(t *testing.T) {
		sym, ok := idx.Lookup(extractor.Key{File: filepath.Join("app", "models.py"), Name: "normalize"})
		require.True(t, ok)
		assert.Equal(t, extractor.KindFunction, sym.Kind)
		assert.Equal(t, 9, sym.StartLine)

		_, ok = idx.Lookup(extractor.Key{File: "app/missing.py", Name: "normalize"})
		assert.False(t, ok)
	})

	t.Run("bare names collect every definition", func(t *testing.T) {
		syms := idx.SymbolsNamed("normalize")
		require.Len(t, syms, 2)
		assert.Equal(t, filepath.Join("app", "api.py"), syms[0].File)
		assert.Equal(t, filepath.Join("app", "models.py"), syms[1].File)
	})

	t.Run("qualified method names resolve", func(t *testing.T) {
		syms := idx.SymbolsNamed("Account.balance")
		require.Len(t, syms, 1)
		assert.Equal(t, extractor.KindMethod, syms[0].Kind)
	})

	t.Run("routes carry method and path", func(t *testing.T) {
		require.Len(t, idx.Routes, 1)
		assert.Equal(t, "GET", idx.Routes[0].Method)
		assert.Equal(t, "/accounts/{account_id}", idx.Routes[0].Path)
		assert.Equal(t, "read_account", idx.Routes[0].HandlerName)
	})

	t.Run("targets split by kind", func(t *testing.T) {
		unit := idx.UnitTargets()
		assert.Len(t, unit, 5)
		for _, sym := range unit {
			assert.NotEqual(t, extractor.KindRoute, sym.Kind)
		}

		routes := idx.RouteTargets()
		require.Len(t, routes, 1)
		assert.Equal(t, "read_account", routes[0].Name)
	})
}

func TestFilesContaining(t *testing.T) {
	idx := buildTestIndex(t)

	files := idx.FilesContaining([]string{"Account.balance", "read_account"})
	assert.Equal(t, []string{filepath.Join("app", "api.py"), filepath.Join("app", "models.py")}, files)

	assert.Empty(t, idx.FilesContaining([]string{"ghost"}))
}

func TestSaveLoadIndex(t *testing.T) {
	idx := buildTestIndex(t)

	path := filepath.Join(t.TempDir(), "out", "index.json")
	require.NoError(t, SaveIndex(idx, path))

	loaded, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, idx.Files, loaded.Files)

	sym, ok := loaded.Lookup(extractor.Key{File: filepath.Join("app", "models.py"), Name: "Account"})
	require.True(t, ok)
	assert.Equal(t, extractor.KindClass, sym.Kind)
}

func TestLoadIndexMissingFile(t *testing.T) {
	_, err := LoadIndex(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
