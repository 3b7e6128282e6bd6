package reconcile

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Print は検査結果を表形式で出力する。
func Print(w io.Writer, r *Report) {
	if len(r.Findings) == 0 {
		fmt.Fprintf(w, "%s no inconsistencies found\n", color.New(color.FgGreen).Sprint("✓"))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tFINDING\tCOLLECTION\tSLUG\tTARGET")
	for _, f := range r.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", statusLabel(f.Status), f.Kind, f.Collection.Collection(), f.Slug, f.Target)
	}
	tw.Flush()

	for _, f := range r.Findings {
		if f.Detail != "" && (f.Status == StatusFailed || f.Status == StatusSkipped) {
			fmt.Fprintf(w, "  %s/%s: %s\n", f.Collection.Collection(), f.Slug, f.Detail)
		}
	}

	fmt.Fprintf(w, "\n%d orphan(s), %d marker(s), %d dangling reference(s)\n",
		r.Count(KindOrphan), r.Count(KindMarker), r.Count(KindDangling))
	if !r.Applied && r.Count(KindOrphan)+r.Count(KindMarker) > 0 {
		fmt.Fprintln(w, "run with --apply to fix orphans and markers")
	}
}

func statusLabel(s Status) string {
	switch s {
	case StatusFixed:
		return color.New(color.FgGreen).Sprint("FIXED  ")
	case StatusPlanned:
		return color.New(color.FgBlue).Sprint("PLAN   ")
	case StatusSkipped:
		return color.New(color.FgYellow).Sprint("SKIPPED")
	case StatusFailed:
		return color.New(color.FgRed).Sprint("FAILED ")
	default:
		return color.New(color.FgYellow).Sprint("REPORT ")
	}
}
