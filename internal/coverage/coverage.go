package coverage

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileCoverage partitions one file's executable lines into covered and
// uncovered sets.
type FileCoverage struct {
	Covered   map[int]bool
	Uncovered map[int]bool
}

// CoverageMap holds per-file line coverage parsed from a Cobertura report.
// It is read-only once built.
type CoverageMap struct {
	Files    map[string]*FileCoverage
	LineRate float64
}

type coberturaReport struct {
	XMLName  xml.Name           `xml:"coverage"`
	LineRate float64            `xml:"line-rate,attr"`
	Packages []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Classes []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Filename string          `xml:"filename,attr"`
	Lines    []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number int `xml:"number,attr"`
	Hits   int `xml:"hits,attr"`
}

// ParseCobertura reads a Cobertura XML coverage report from disk.
func ParseCobertura(path string) (*CoverageMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading coverage report: %w", err)
	}
	return ParseCoberturaBytes(data)
}

// ParseCoberturaBytes parses a Cobertura XML coverage report. A line with
// zero hits is uncovered. Multiple class entries for one filename merge; a
// line hit anywhere counts as covered.
func ParseCoberturaBytes(data []byte) (*CoverageMap, error) {
	var report coberturaReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing coverage XML: %w", err)
	}

	cov := &CoverageMap{
		Files:    make(map[string]*FileCoverage),
		LineRate: report.LineRate,
	}

	for _, pkg := range report.Packages {
		for _, class := range pkg.Classes {
			if class.Filename == "" {
				continue
			}
			fc := cov.Files[filepath.ToSlash(class.Filename)]
			if fc == nil {
				fc = &FileCoverage{
					Covered:   make(map[int]bool),
					Uncovered: make(map[int]bool),
				}
				cov.Files[filepath.ToSlash(class.Filename)] = fc
			}
			for _, line := range class.Lines {
				if line.Hits > 0 {
					fc.Covered[line.Number] = true
					delete(fc.Uncovered, line.Number)
				} else if !fc.Covered[line.Number] {
					fc.Uncovered[line.Number] = true
				}
			}
		}
	}

	return cov, nil
}

// File returns the coverage for a path, or nil when the report does not
// mention it.
func (c *CoverageMap) File(path string) *FileCoverage {
	return c.Files[filepath.ToSlash(path)]
}

// Percent returns the report's overall line rate as a percentage.
func (c *CoverageMap) Percent() float64 {
	return c.LineRate * 100
}

// UncoveredLines returns a file's uncovered lines in ascending order.
func (c *CoverageMap) UncoveredLines(path string) []int {
	fc := c.File(path)
	if fc == nil {
		return nil
	}
	lines := make([]int, 0, len(fc.Uncovered))
	for n := range fc.Uncovered {
		lines = append(lines, n)
	}
	sort.Ints(lines)
	return lines
}
