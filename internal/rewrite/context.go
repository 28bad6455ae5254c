package rewrite

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"icap-rewrite-go/internal/icap"
)

// HeaderName is the informational header added to every adapted response.
const HeaderName = "X-ICAP-Rewritten"

const (
	headerLine = HeaderName + ": 1"
	textPrefix = "text/"
)

// ErrContextAllocation is returned when no request context can be allocated
// for a transaction. The host aborts adaptation of that transaction.
var ErrContextAllocation = errors.New("rewrite: cannot allocate request context")

// Context is the per-transaction state. It is owned by the transaction and
// never shared.
type Context struct {
	textual bool
	method  icap.Method
	start   time.Time
	release func()

	replacements int
	destroyed    bool

	// carry-over state
	pending []byte
	tail    []byte
}

// Textual reports whether the response was classified as text.
func (c *Context) Textual() bool {
	return c.textual
}

// Replacements is the number of markers rewritten so far.
func (c *Context) Replacements() int {
	return c.replacements
}

// CreateContext implements icap.Service. It classifies the response from
// its Content-Type and tags the response headers once.
func (s *Service) CreateContext(req icap.Request) (*Context, error) {
	if req == nil {
		return nil, ErrContextAllocation
	}

	release, ok := s.acquire()
	if !ok {
		if s.metrics != nil {
			s.metrics.ContextFailures.Inc()
		}
		s.logger.Warn("transaction budget exhausted", "icap_method", req.Method().String())
		return nil, ErrContextAllocation
	}

	c := &Context{
		textual: isTextual(req),
		method:  req.Method(),
		start:   time.Now(),
		release: release,
	}
	outcome := injectHeader(req)

	if s.metrics != nil {
		s.metrics.TransactionsInFlight.Inc()
		s.metrics.TransactionsTotal.WithLabelValues(c.method.String(), strconv.FormatBool(c.textual)).Inc()
		s.metrics.HeaderInjectionsTotal.WithLabelValues(outcome).Inc()
	}

	s.logger.Debug("request context created",
		"icap_method", c.method.String(),
		"textual", c.textual,
		"header", outcome,
	)
	return c, nil
}

// DestroyContext implements icap.Service. It accepts nil and contexts that
// were already destroyed.
func (s *Service) DestroyContext(c *Context) {
	if c == nil || c.destroyed {
		return
	}
	c.destroyed = true
	c.release()
	c.pending, c.tail = nil, nil

	if s.metrics != nil {
		s.metrics.TransactionsInFlight.Dec()
		s.metrics.TransactionDuration.WithLabelValues(c.method.String()).Observe(time.Since(c.start).Seconds())
	}

	s.logger.Debug("request context destroyed",
		"icap_method", c.method.String(),
		"textual", c.textual,
		"replacements", c.replacements,
	)
}

// isTextual reports whether the response Content-Type starts with "text/",
// ignoring case. A missing header is not textual.
func isTextual(req icap.Request) bool {
	ct, ok := req.ResponseHeader("Content-Type")
	if !ok || len(ct) < len(textPrefix) {
		return false
	}
	return strings.EqualFold(ct[:len(textPrefix)], textPrefix)
}

// injectHeader leaves the response with exactly one "X-ICAP-Rewritten: 1".
// A header that is already there, from a retried context creation or from
// the origin, is replaced rather than appended to.
func injectHeader(req icap.Request) string {
	if _, ok := req.ResponseHeader(HeaderName); ok {
		if !req.SetResponseHeader(headerLine) {
			return "refused"
		}
		return "present"
	}
	if !req.AddResponseHeader(headerLine) {
		return "refused"
	}
	return "added"
}
