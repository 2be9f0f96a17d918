package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/YuminosukeSato/sipredict/report"
)

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func printDone(w io.Writer, stage string) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), stage)
}

func printFiles(w io.Writer, files *report.Files) {
	if files == nil {
		return
	}
	fmt.Fprintf(w, "Metrics:  %s\n", files.MetricsCSV)
	fmt.Fprintf(w, "Workbook: %s\n", files.Workbook)
	for _, p := range files.ROCPlots {
		fmt.Fprintf(w, "ROC:      %s\n", p)
	}
}
