package rewrite

import (
	"icap-rewrite-go/internal/icap"
)

// Transform implements icap.Service.
//
// By default each chunk is scanned on its own and rewritten in place; the
// returned slice is chunk itself. A marker split across two chunks is not
// found. With carry-over enabled, up to Len()-1 trailing bytes are held back
// and scanned together with the next chunk, so the returned slice may be
// shorter than chunk on one step and longer on the next. The held bytes are
// flushed on eof.
func (s *Service) Transform(chunk []byte, eof bool, c *Context) ([]byte, icap.Status) {
	if c == nil || c.destroyed || !c.textual || !s.marker.Enabled() {
		return chunk, icap.StatusContinue
	}

	if s.carryOver {
		return s.transformCarry(chunk, eof, c), icap.StatusContinue
	}

	if len(chunk) > 0 {
		n, _ := s.marker.ReplaceInPlace(chunk)
		s.record(c, len(chunk), n)
	}
	return chunk, icap.StatusContinue
}

func (s *Service) transformCarry(chunk []byte, eof bool, c *Context) []byte {
	if len(c.tail) == 0 && len(chunk) == 0 {
		return chunk
	}

	c.pending = append(append(c.pending[:0], c.tail...), chunk...)
	n, end := s.marker.ReplaceInPlace(c.pending)
	s.record(c, len(chunk), n)

	emit := len(c.pending)
	if !eof {
		// Replaced bytes are always emitted so they are never rescanned.
		emit -= min(s.marker.Len()-1, len(c.pending)-end)
	}
	c.tail = append(c.tail[:0], c.pending[emit:]...)
	return c.pending[:emit]
}

func (s *Service) record(c *Context, scanned, replaced int) {
	c.replacements += replaced
	if s.metrics == nil {
		return
	}
	s.metrics.BytesScannedTotal.Add(float64(scanned))
	if replaced > 0 {
		s.metrics.ReplacementsTotal.Add(float64(replaced))
	}
}
