package llm

import "bytes"

// LineBuffer splits a byte stream into newline-delimited lines across
// arbitrary read boundaries. The tail of the last line, which may be
// incomplete, is buffered until the next feed. Feeding the same bytes in any
// partitioning yields the same sequence of lines.
type LineBuffer struct {
	rem []byte
}

// Split appends p to the buffered remainder and returns every complete line,
// with trailing CR stripped.
func (b *LineBuffer) Split(p []byte) []string {
	b.rem = append(b.rem, p...)

	var lines []string
	for {
		i := bytes.IndexByte(b.rem, '\n')
		if i < 0 {
			return lines
		}
		line := b.rem[:i]
		b.rem = b.rem[i+1:]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
	}
}

// Rest returns any buffered partial line without consuming it.
func (b *LineBuffer) Rest() string {
	return string(b.rem)
}
