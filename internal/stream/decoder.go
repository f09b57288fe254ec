// Package stream splits a chunked byte stream into newline-delimited records.
package stream

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// Decoder reassembles lines across arbitrary chunk boundaries.
// A Decoder is not safe for concurrent use; each stream owns one.
type Decoder struct {
	buf []byte
}

// Feed appends chunk and returns every line completed by it.
// The trailing partial line is held until a later Feed or Flush.
// Blank lines are dropped.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		if line, ok := finishLine(d.buf[:i]); ok {
			lines = append(lines, line)
		}
		d.buf = d.buf[i+1:]
	}

	// Release the consumed prefix once the buffer drains.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return lines
}

// Flush returns the held partial line, if any, and resets the decoder.
func (d *Decoder) Flush() []string {
	rest := d.buf
	d.buf = nil
	if line, ok := finishLine(rest); ok {
		return []string{line}
	}
	return nil
}

// Pending reports how many bytes are held waiting for a newline.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

func finishLine(b []byte) (string, bool) {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	line := string(b)
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "�")
	}
	if strings.TrimSpace(line) == "" {
		return "", false
	}
	return line, true
}
