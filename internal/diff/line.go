// Package diff holds the client side of a server-computed change proposal:
// line classification, the single-proposal engine, and rendering.
package diff

import "strings"

// LineKind classifies one line of a proposal for display.
type LineKind int

const (
	LineContext LineKind = iota
	LineAdded
	LineRemoved
)

func (k LineKind) String() string {
	switch k {
	case LineAdded:
		return "added"
	case LineRemoved:
		return "removed"
	default:
		return "context"
	}
}

// Line is one classified line. Text keeps the marker.
type Line struct {
	Kind LineKind
	Text string
}

// Classify picks a line's kind from its leading marker.
func Classify(line string) Line {
	switch {
	case strings.HasPrefix(line, "+"):
		return Line{Kind: LineAdded, Text: line}
	case strings.HasPrefix(line, "-"):
		return Line{Kind: LineRemoved, Text: line}
	default:
		return Line{Kind: LineContext, Text: line}
	}
}

// ParseLines classifies every line of a diff body. A trailing newline does not
// produce an empty context line.
func ParseLines(content string) []Line {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	raw := strings.Split(content, "\n")
	lines := make([]Line, len(raw))
	for i, l := range raw {
		lines[i] = Classify(l)
	}
	return lines
}

// Proposal is a pending change awaiting apply or discard.
type Proposal struct {
	ID    string
	Path  string
	Lines []Line
}

// NewProposal builds a proposal from the server's raw diff body.
func NewProposal(id, path, content string) Proposal {
	return Proposal{ID: id, Path: path, Lines: ParseLines(content)}
}

// Stats counts added and removed lines.
func (p Proposal) Stats() (added, removed int) {
	for _, l := range p.Lines {
		switch l.Kind {
		case LineAdded:
			added++
		case LineRemoved:
			removed++
		}
	}
	return added, removed
}
