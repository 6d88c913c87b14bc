package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// scoreColor colors a [0,1] score green, yellow or red around target.
func scoreColor(v, target float64) string {
	switch {
	case v >= target:
		return green(pct(v))
	case v >= target-0.2:
		return yellow(pct(v))
	default:
		return red(pct(v))
	}
}

func severityColor(s string) string {
	switch s {
	case "critical", "high":
		return red(s)
	case "medium":
		return yellow(s)
	default:
		return gray(s)
	}
}
