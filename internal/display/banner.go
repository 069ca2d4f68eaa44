package display

import (
	"io"

	"github.com/fatih/color"
)

const banner = ` ____ ____   ____
/ ___|___ \ / ___|
\___ \ __) | |  _
 ___) / __/| |_| |
|____/_____|\____|
`

// PrintBanner writes the ASCII banner, bold magenta when color is enabled.
func PrintBanner(w io.Writer) {
	color.New(color.FgHiMagenta, color.Bold).Fprint(w, banner)
	color.New(color.Faint).Fprintln(w, "Source to GoldSrc model converter")
}
