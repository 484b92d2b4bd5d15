package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	okMark   = color.GreenString("✓")
	failMark = color.RedString("✗")
	warnMark = color.YellowString("!")
)

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, color.New(color.Bold).Sprint(title))
		fmt.Fprintln(w, "─────────────────────")
	}
}

func check(ok bool) string {
	if ok {
		return okMark
	}
	return failMark
}
