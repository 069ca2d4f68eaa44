package display

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Failure is one failed item line of a Summary.
type Failure struct {
	Name  string
	Stage string
	Err   string
}

// Summary is the end-of-run report printed to the console.
type Summary struct {
	Total        int
	Succeeded    int
	Failed       int
	NotAttempted int
	Interrupted  bool
	DryRun       bool
	Failures     []Failure
	Missing      map[string][]string // item name -> textures without a bitmap
	OutputBytes  int64
	Elapsed      time.Duration
}

// PrintSummary writes s to w, green for converted counts and red for
// failures.
func PrintSummary(w io.Writer, s Summary) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(w)
	title := "Summary"
	if s.DryRun {
		title += " (dry run)"
	}
	bold.Fprintln(w, title)
	fmt.Fprintf(w, "  Models:     %d\n", s.Total)
	green.Fprintf(w, "  Converted:  %d\n", s.Succeeded)
	if s.Failed > 0 {
		red.Fprintf(w, "  Failed:     %d\n", s.Failed)
	}
	if s.NotAttempted > 0 {
		yellow.Fprintf(w, "  Skipped:    %d\n", s.NotAttempted)
	}
	if len(s.Failures) > 0 {
		red.Fprintln(w, indent(failureTable(s.Failures), "  "))
	}
	names := make([]string, 0, len(s.Missing))
	for name := range s.Missing {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		yellow.Fprintf(w, "  %s: missing %s\n", name, strings.Join(s.Missing[name], ", "))
	}
	if s.OutputBytes > 0 {
		fmt.Fprintf(w, "  Output:     %s\n", FormatBytes(s.OutputBytes))
	}
	fmt.Fprintf(w, "  Elapsed:    %s\n", FormatDuration(s.Elapsed))
	if s.Interrupted {
		yellow.Fprintln(w, "  Interrupted before all models were attempted")
	}
}

func failureTable(failures []Failure) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.AppendHeader(table.Row{"Model", "Stage", "Error"})
	for _, f := range failures {
		tbl.AppendRow(table.Row{f.Name, f.Stage, f.Err})
	}
	return tbl.Render()
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
