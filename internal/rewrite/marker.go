package rewrite

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrInvalidMarker is returned for empty or non-ASCII marker tokens.
var ErrInvalidMarker = errors.New("rewrite: invalid marker")

// Marker is a source token and its replacement. A marker whose tokens differ
// in length never rewrites anything.
type Marker struct {
	source      []byte
	replacement []byte
}

// NewMarker validates both tokens as non-empty printable ASCII.
func NewMarker(source, replacement string) (Marker, error) {
	for _, tok := range []string{source, replacement} {
		if tok == "" {
			return Marker{}, fmt.Errorf("%w: empty token", ErrInvalidMarker)
		}
		for i := 0; i < len(tok); i++ {
			if tok[i] < 0x20 || tok[i] > 0x7e {
				return Marker{}, fmt.Errorf("%w: %q is not printable ASCII", ErrInvalidMarker, tok)
			}
		}
	}
	return Marker{source: []byte(source), replacement: []byte(replacement)}, nil
}

// Enabled reports whether the tokens have equal length, the only case in
// which an in-place rewrite is possible.
func (m Marker) Enabled() bool {
	return len(m.source) > 0 && len(m.source) == len(m.replacement)
}

// Len is the source token length.
func (m Marker) Len() int {
	return len(m.source)
}

func (m Marker) String() string {
	return fmt.Sprintf("%s->%s", m.source, m.replacement)
}

// ReplaceInPlace overwrites every non-overlapping occurrence of the source
// token in buf, scanning left to right and resuming after each replaced
// region. It returns the number of replacements and the offset just past the
// last one (0 if none). buf never changes length.
func (m Marker) ReplaceInPlace(buf []byte) (n, end int) {
	if !m.Enabled() {
		return 0, 0
	}
	for i := 0; i <= len(buf)-len(m.source); {
		j := bytes.Index(buf[i:], m.source)
		if j < 0 {
			break
		}
		i += j
		copy(buf[i:], m.replacement)
		i += len(m.source)
		n++
		end = i
	}
	return n, end
}
