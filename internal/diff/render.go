package diff

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Render writes a proposal with a one-line header. Colors follow
// color.NoColor, which is set when stdout is not a terminal.
func Render(w io.Writer, p Proposal) error {
	_, err := io.WriteString(w, Format(p))
	return err
}

// Format returns the rendered proposal.
func Format(p Proposal) string {
	var sb strings.Builder
	added, removed := p.Stats()
	fmt.Fprintf(&sb, "%s %s (%s, %s)\n",
		color.CyanString("proposal %s", p.ID),
		p.Path,
		color.GreenString("+%d", added),
		color.RedString("-%d", removed))
	for _, l := range p.Lines {
		sb.WriteString(formatLine(l))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatLine(l Line) string {
	switch l.Kind {
	case LineAdded:
		return color.GreenString("%s", l.Text)
	case LineRemoved:
		return color.RedString("%s", l.Text)
	default:
		return l.Text
	}
}
