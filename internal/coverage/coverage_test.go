package coverage

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testmend/internal/extractor"
	"testmend/internal/index"
)

func loadTestCoverage(t *testing.T) *CoverageMap {
	t.Helper()
	cov, err := ParseCobertura(filepath.Join("testdata", "coverage.xml"))
	require.NoError(t, err)
	return cov
}

func TestParseCobertura(t *testing.T) {
	cov := loadTestCoverage(t)

	t.Run("overall line rate", func(t *testing.T) {
		assert.InDelta(t, 77.78, cov.Percent(), 0.01)
	})

	t.Run("zero-hit lines are uncovered", func(t *testing.T) {
		assert.Equal(t, []int{11, 12}, cov.UncoveredLines("app/calc.py"))

		fc := cov.File("app/calc.py")
		require.NotNil(t, fc)
		assert.True(t, fc.Covered[1])
		assert.True(t, fc.Covered[10])
		assert.False(t, fc.Covered[11])
	})

	t.Run("duplicate class entries merge with hits winning", func(t *testing.T) {
		// Line 14 is reported twice: zero hits in one class entry,
		// two hits in another.
		fc := cov.File("app/calc.py")
		require.NotNil(t, fc)
		assert.True(t, fc.Covered[14])
		assert.False(t, fc.Uncovered[14])
	})

	t.Run("fully covered files have no uncovered lines", func(t *testing.T) {
		assert.Empty(t, cov.UncoveredLines("app/other.py"))
	})

	t.Run("unknown files return nil", func(t *testing.T) {
		assert.Nil(t, cov.File("app/missing.py"))
	})
}

func TestParseCoberturaBytesRejectsGarbage(t *testing.T) {
	_, err := ParseCoberturaBytes([]byte("not xml at all <"))
	assert.Error(t, err)
}

func TestGaps(t *testing.T) {
	idx := index.NewSymbolIndex(".")
	idx.Add("app/calc.py", &extractor.Extraction{Symbols: []extractor.Symbol{
		{Name: "add", File: "app/calc.py", Kind: extractor.KindFunction, StartLine: 1, EndLine: 3},
		{Name: "Calc", File: "app/calc.py", Kind: extractor.KindClass, StartLine: 6, EndLine: 14},
		{Name: "div", File: "app/calc.py", Kind: extractor.KindMethod, StartLine: 10, EndLine: 14, Parent: "Calc", Depth: 1},
	}})
	idx.Add("app/api.py", &extractor.Extraction{Symbols: []extractor.Symbol{
		{Name: "ping", File: "app/api.py", Kind: extractor.KindRoute, StartLine: 1, EndLine: 2},
	}})

	cov := loadTestCoverage(t)
	gaps := NewMapper(idx).Gaps(cov)

	t.Run("only symbols intersecting the miss set appear", func(t *testing.T) {
		require.Len(t, gaps, 2)
		assert.Equal(t, "Calc", gaps[0].Symbol.Name)
		assert.Equal(t, "div", gaps[1].Symbol.Name)
	})

	t.Run("nested symbols gap independently of their parents", func(t *testing.T) {
		assert.Equal(t, []int{11, 12}, gaps[0].UncoveredLines)
		assert.Equal(t, []int{11, 12}, gaps[1].UncoveredLines)
	})

	t.Run("files absent from the report never gap", func(t *testing.T) {
		for _, g := range gaps {
			assert.NotEqual(t, "ping", g.Symbol.Name)
		}
	})

	t.Run("targets follow gap order", func(t *testing.T) {
		targets := Targets(gaps)
		require.Len(t, targets, 2)
		assert.Equal(t, "Calc", targets[0].Name)
		assert.Equal(t, "div", targets[1].Name)
	})
}

// A branch that never runs inside an otherwise covered function must
// surface as one gap carrying exactly the missed lines.
func TestGapsBranchNeverHit(t *testing.T) {
	idx := index.NewSymbolIndex(".")
	idx.Add("app/rules.py", &extractor.Extraction{Symbols: []extractor.Symbol{
		{Name: "grade", File: "app/rules.py", Kind: extractor.KindFunction, StartLine: 1, EndLine: 20},
	}})

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" ?><coverage version="7.4.1" line-rate="0.85"><packages><package name="app" line-rate="0.85"><classes><class name="rules.py" filename="app/rules.py" line-rate="0.85"><lines>`)
	for n := 1; n <= 20; n++ {
		hits := 1
		if n >= 14 && n <= 16 {
			hits = 0
		}
		fmt.Fprintf(&b, `<line number="%d" hits="%d"/>`, n, hits)
	}
	b.WriteString(`</lines></class></classes></package></packages></coverage>`)

	cov, err := ParseCoberturaBytes([]byte(b.String()))
	require.NoError(t, err)

	gaps := NewMapper(idx).Gaps(cov)
	require.Len(t, gaps, 1)
	assert.Equal(t, "grade", gaps[0].Symbol.Name)
	assert.Equal(t, []int{14, 15, 16}, gaps[0].UncoveredLines)
}
