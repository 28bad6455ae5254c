package icap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultChunkSize is the body read size used when none is configured.
const DefaultChunkSize = 8192

// maxEmptyReads bounds consecutive (0, nil) reads from a body.
const maxEmptyReads = 100

// Engine is the host side of the contract. It activates a service once,
// then drives one Session per transaction.
type Engine[T any] struct {
	svc       Service[T]
	desc      Descriptor
	settings  Settings
	chunkSize int
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewEngine activates svc and returns an engine bound to it. If activation
// fails the service is not registered and an error is returned.
func NewEngine[T any](svc Service[T], chunkSize int, logger *slog.Logger) (*Engine[T], error) {
	desc := svc.Descriptor()

	var cfg ServiceConfig
	if err := svc.Activate(&cfg); err != nil {
		return nil, fmt.Errorf("activate service %q: %w", desc.Name, err)
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	e := &Engine[T]{
		svc:       svc,
		desc:      desc,
		settings:  cfg.Settings(),
		chunkSize: chunkSize,
		logger:    logger.With("component", "icap_engine"),
	}
	e.logger.Info("service activated",
		"service", desc.Name,
		"methods", desc.Methods.String(),
		"preview_size", e.settings.PreviewSize,
		"allow_204", e.settings.Allow204,
		"transfer_preview", e.settings.TransferPreview,
	)
	return e, nil
}

// Descriptor returns the registered service descriptor.
func (e *Engine[T]) Descriptor() Descriptor {
	return e.desc
}

// Settings returns the configuration frozen at activation.
func (e *Engine[T]) Settings() Settings {
	return e.settings
}

// Close deactivates the service. Subsequent calls are no-ops.
func (e *Engine[T]) Close() {
	e.closeOnce.Do(func() {
		e.svc.Deactivate()
		e.logger.Info("service deactivated", "service", e.desc.Name)
	})
}

// Begin creates the service context for req. The returned session must be
// closed by the caller, whatever happens to the body.
func (e *Engine[T]) Begin(req Request) (*Session[T], error) {
	if !e.desc.Methods.Has(req.Method()) {
		return nil, fmt.Errorf("%s: %w", req.Method(), ErrMethodNotAllowed)
	}

	data, err := e.svc.CreateContext(req)
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}

	return &Session[T]{
		engine: e,
		req:    req,
		data:   data,
		state:  stateClassified,
	}, nil
}

// Adapt runs a whole transaction: Begin, Stream, Close.
func (e *Engine[T]) Adapt(ctx context.Context, req Request, r io.Reader, w io.Writer) (Stats, error) {
	s, err := e.Begin(req)
	if err != nil {
		return Stats{}, err
	}
	defer s.Close()
	return s.Stream(ctx, r, w)
}

type sessionState int

const (
	stateClassified sessionState = iota
	stateStreaming
	stateFinalized
)

// Stats summarizes one streamed body.
type Stats struct {
	Chunks     int
	BytesIn    int64
	BytesOut   int64
	Previewed  bool
	Unmodified bool
}

// Session is one in-flight transaction. It is owned by a single goroutine.
type Session[T any] struct {
	engine *Engine[T]
	req    Request
	data   T
	state  sessionState
}

// Data returns the service context of the session.
func (s *Session[T]) Data() T {
	return s.data
}

// Stream feeds the body from r through the service and writes the adapted
// bytes to w. Cancellation of ctx is observed between chunks.
func (s *Session[T]) Stream(ctx context.Context, r io.Reader, w io.Writer) (Stats, error) {
	var st Stats
	switch s.state {
	case stateFinalized:
		return st, ErrFinalized
	case stateStreaming:
		return st, ErrStreamed
	}
	s.state = stateStreaming

	if r == nil {
		r = eofReader{}
	}
	r = &progressReader{r: r}

	e := s.engine
	svc := e.svc
	buf := make([]byte, max(e.chunkSize, e.settings.PreviewSize))
	eof := false

	ct, _ := s.req.ResponseHeader("Content-Type")
	if e.settings.WantsPreview(ct) {
		n, err := io.ReadFull(r, buf[:e.settings.PreviewSize])
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			eof = true
		case err != nil:
			return st, fmt.Errorf("read preview: %w", err)
		}
		st.Previewed = true

		switch svc.OnPreview(buf[:n], s.data) {
		case StatusAllow204:
			if e.settings.Allow204 {
				return s.passThrough(ctx, buf[:n], eof, r, w, st)
			}
		case StatusError:
			return st, fmt.Errorf("preview: %w", ErrAdaptation)
		}

		if err := s.step(buf[:n], eof, w, &st); err != nil {
			return st, err
		}
	}

	for !eof {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		n, err := r.Read(buf[:e.chunkSize])
		if errors.Is(err, io.EOF) {
			eof = true
		} else if err != nil {
			return st, fmt.Errorf("read body: %w", err)
		}
		if n == 0 && !eof {
			continue
		}
		if err := s.step(buf[:n], eof, w, &st); err != nil {
			return st, err
		}
	}

	if svc.OnEndOfData(s.data) == StatusError {
		return st, fmt.Errorf("end of data: %w", ErrAdaptation)
	}
	return st, nil
}

func (s *Session[T]) step(chunk []byte, eof bool, w io.Writer, st *Stats) error {
	st.Chunks++
	st.BytesIn += int64(len(chunk))

	out, status := s.engine.svc.Transform(chunk, eof, s.data)
	if status == StatusError {
		return fmt.Errorf("transform: %w", ErrAdaptation)
	}
	if len(out) == 0 {
		return nil
	}

	n, err := w.Write(out)
	st.BytesOut += int64(n)
	if err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// passThrough emits the preview and the rest of the body unchanged.
func (s *Session[T]) passThrough(ctx context.Context, preview []byte, eof bool, r io.Reader, w io.Writer, st Stats) (Stats, error) {
	st.Unmodified = true
	st.BytesIn += int64(len(preview))

	n, err := w.Write(preview)
	st.BytesOut += int64(n)
	if err != nil {
		return st, fmt.Errorf("write body: %w", err)
	}
	if !eof {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		copied, err := io.Copy(w, r)
		st.BytesIn += copied
		st.BytesOut += copied
		if err != nil {
			return st, fmt.Errorf("copy body: %w", err)
		}
	}

	s.engine.logger.Debug("transaction not modified", "service", s.engine.desc.Name)
	return st, nil
}

// Close finalizes the session and destroys its context. It is safe to call
// in any state and more than once.
func (s *Session[T]) Close() {
	if s.state == stateFinalized {
		return
	}
	s.state = stateFinalized
	s.engine.svc.DestroyContext(s.data)

	var zero T
	s.data = zero
}

// progressReader fails with io.ErrNoProgress after maxEmptyReads
// consecutive reads that return no data and no error.
type progressReader struct {
	r     io.Reader
	empty int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 || err != nil || len(b) == 0 {
		p.empty = 0
		return n, err
	}
	if p.empty++; p.empty >= maxEmptyReads {
		return 0, io.ErrNoProgress
	}
	return 0, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
