// Package ci implements the coverage gate run by the repository's CI job.
// It parses go test -coverprofile output, folds it into per-package numbers,
// and renders the summary as Markdown or a shields.io badge.
package ci

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Block is one record of a coverage profile.
type Block struct {
	File       string
	StartLine  int
	StartCol   int
	EndLine    int
	EndCol     int
	Statements int
	Count      int
}

// Profile is a parsed coverage profile.
type Profile struct {
	Blocks []Block
}

// PackageCoverage holds the statement counts for one package.
type PackageCoverage struct {
	Package    string
	Statements int
	Covered    int
	Percent    float64
}

// Report is the per-package summary plus the repository total.
type Report struct {
	Packages []PackageCoverage
	Total    PackageCoverage
}

// ParseProfile reads a coverage profile as written by go test -coverprofile.
// The first line must be the mode line.
func ParseProfile(r io.Reader) (*Profile, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, eris.Wrap(err, "ci: read profile")
		}
		return nil, eris.New("ci: empty profile")
	}
	if !strings.HasPrefix(sc.Text(), "mode:") {
		return nil, eris.Errorf("ci: expected mode line, got %q", sc.Text())
	}

	prof := &Profile{}
	lineNum := 1
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		b, err := parseBlock(line)
		if err != nil {
			return nil, eris.Wrapf(err, "ci: line %d", lineNum)
		}
		prof.Blocks = append(prof.Blocks, b)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "ci: read profile")
	}
	return prof, nil
}

// parseBlock parses one profile record of the form
// "file.go:startLine.startCol,endLine.endCol statements count".
func parseBlock(line string) (Block, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Block{}, eris.Errorf("want 3 fields, got %d in %q", len(fields), line)
	}

	stmts, err := strconv.Atoi(fields[1])
	if err != nil {
		return Block{}, eris.Wrapf(err, "bad statement count in %q", line)
	}
	count, err := strconv.Atoi(fields[2])
	if err != nil {
		return Block{}, eris.Wrapf(err, "bad hit count in %q", line)
	}

	file, span, ok := strings.Cut(fields[0], ":")
	if !ok {
		return Block{}, eris.Errorf("missing span in %q", fields[0])
	}
	start, end, ok := strings.Cut(span, ",")
	if !ok {
		return Block{}, eris.Errorf("bad span %q", span)
	}

	b := Block{File: file, Statements: stmts, Count: count}
	if b.StartLine, b.StartCol, err = parsePos(start); err != nil {
		return Block{}, err
	}
	if b.EndLine, b.EndCol, err = parsePos(end); err != nil {
		return Block{}, err
	}
	return b, nil
}

func parsePos(s string) (int, int, error) {
	lineStr, colStr, ok := strings.Cut(s, ".")
	if !ok {
		return 0, 0, eris.Errorf("bad position %q", s)
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "bad line in %q", s)
	}
	col, err := strconv.Atoi(colStr)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "bad column in %q", s)
	}
	return line, col, nil
}

// Summarize folds the profile into per-package counts and a repository total.
// A statement is covered when its block was hit at least once. modulePrefix
// is stripped from package names for readability.
func (p *Profile) Summarize(modulePrefix string) *Report {
	byPkg := make(map[string]*PackageCoverage)
	for _, b := range p.Blocks {
		name := packageName(b.File, modulePrefix)
		pc := byPkg[name]
		if pc == nil {
			pc = &PackageCoverage{Package: name}
			byPkg[name] = pc
		}
		pc.Statements += b.Statements
		if b.Count > 0 {
			pc.Covered += b.Statements
		}
	}

	report := &Report{Total: PackageCoverage{Package: "total"}}
	for _, pc := range byPkg {
		pc.Percent = percent(pc.Covered, pc.Statements)
		report.Packages = append(report.Packages, *pc)
		report.Total.Statements += pc.Statements
		report.Total.Covered += pc.Covered
	}
	sort.Slice(report.Packages, func(i, j int) bool {
		return report.Packages[i].Package < report.Packages[j].Package
	})
	report.Total.Percent = percent(report.Total.Covered, report.Total.Statements)
	return report
}

func percent(covered, statements int) float64 {
	if statements == 0 {
		return 0
	}
	return float64(covered) / float64(statements) * 100
}

// packageName maps a profile file path to its package, stripping the module
// prefix when present.
func packageName(file, modulePrefix string) string {
	pkg := path.Dir(file)
	if pkg == "." {
		return file
	}
	if modulePrefix != "" {
		pkg = strings.TrimPrefix(pkg, modulePrefix+"/")
	}
	return pkg
}

// CheckThreshold fails when total coverage is below threshold percent.
func CheckThreshold(report *Report, threshold float64) error {
	if report.Total.Percent < threshold {
		return eris.Errorf("ci: coverage %.1f%% is below threshold %.1f%%",
			report.Total.Percent, threshold)
	}
	return nil
}

// FormatMarkdown renders the report as a Markdown table for the PR comment.
func FormatMarkdown(report *Report) string {
	var sb strings.Builder

	sb.WriteString("## Coverage Report\n\n")
	sb.WriteString("| Package | Statements | Covered | Coverage |\n")
	sb.WriteString("|:--------|----------:|---------:|---------:|\n")

	for _, pkg := range report.Packages {
		fmt.Fprintf(&sb, "| `%s` | %d | %d | %.1f%% |\n",
			pkg.Package, pkg.Statements, pkg.Covered, pkg.Percent)
	}
	fmt.Fprintf(&sb, "| **Total** | **%d** | **%d** | **%.1f%%** |\n",
		report.Total.Statements, report.Total.Covered, report.Total.Percent)

	return sb.String()
}

// FormatBadgeJSON renders a shields.io endpoint badge for the README.
func FormatBadgeJSON(report *Report) string {
	color := "red"
	switch {
	case report.Total.Percent >= 80:
		color = "brightgreen"
	case report.Total.Percent >= 60:
		color = "green"
	case report.Total.Percent >= 40:
		color = "yellow"
	}

	return fmt.Sprintf(
		`{"schemaVersion":1,"label":"coverage","message":"%.1f%%","color":"%s"}`,
		report.Total.Percent, color,
	)
}
