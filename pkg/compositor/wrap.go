package compositor

import "strings"

// Measurer returns the rendered width of a string in pixels
type Measurer interface {
	Measure(s string) int
}

// WrapText greedily packs whitespace separated words into lines no wider than
// maxWidth. A single word wider than maxWidth is placed on a line of its own.
// Text without any words is returned unchanged as the only line.
func WrapText(text string, maxWidth int, m Measurer) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		if m.Measure(candidate) <= maxWidth {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	return append(lines, current)
}
