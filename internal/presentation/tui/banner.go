package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{" _                  _      _ _ ", "#34d399"},
	{"| |_ ___ _ __   __| |_ __(_) |", "#2dd4bf"},
	{"| __/ _ \\ '_ \\ / _` | '__| | |", "#22d3ee"},
	{"| ||  __/ | | | (_| | |  | | |", "#38bdf8"},
	{" \\__\\___|_| |_|\\__,_|_|  |_|_|", "#60a5fa"},
}

// PrintBanner writes the tendril banner and a subtitle to w, colored when the
// terminal supports it.
func PrintBanner(w io.Writer, subtitle string) {
	p := termenv.EnvColorProfile()
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	if subtitle != "" {
		fmt.Fprintln(w, termenv.String(subtitle).Faint())
	}
	fmt.Fprintln(w)
}
