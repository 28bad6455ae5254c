// Package rewrite implements the rewrite_demo adaptation service. Every
// adapted response is tagged with X-ICAP-Rewritten, and textual bodies have a
// fixed ASCII marker rewritten in place as they stream through.
package rewrite

import (
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"icap-rewrite-go/internal/config"
	"icap-rewrite-go/internal/icap"
	"icap-rewrite-go/internal/metrics"
)

const (
	// ServiceName is the name the service registers under.
	ServiceName        = "rewrite_demo"
	serviceDescription = "Rewrite demo service (header + body token rewrite)"
)

// Service is the rewrite_demo adaptation service. It holds no per-transaction
// state; everything mutable lives in Context.
type Service struct {
	marker      Marker
	previewSize int
	carryOver   bool
	slots       *semaphore.Weighted

	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ icap.Service[*Context] = (*Service)(nil)

// New creates the service from configuration.
// The metrics parameter is optional; pass nil to disable adaptation metrics.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	marker, err := NewMarker(cfg.Service.Marker.Source, cfg.Service.Marker.Replacement)
	if err != nil {
		return nil, fmt.Errorf("marker: %w", err)
	}

	s := &Service{
		marker:      marker,
		previewSize: cfg.Service.PreviewSize,
		carryOver:   cfg.Service.CarryOver,
		logger:      logger.With("component", "rewrite_service"),
		metrics:     m,
	}
	if cfg.Service.MaxTransactions > 0 {
		s.slots = semaphore.NewWeighted(cfg.Service.MaxTransactions)
	}
	return s, nil
}

// Descriptor implements icap.Service.
func (s *Service) Descriptor() icap.Descriptor {
	return icap.Descriptor{
		Name:        ServiceName,
		Description: serviceDescription,
		Methods:     icap.MethodRespMod | icap.MethodReqMod,
	}
}

// Marker returns the configured marker pair.
func (s *Service) Marker() Marker {
	return s.marker
}

// CarryOver reports whether markers split across chunks are rewritten.
func (s *Service) CarryOver() bool {
	return s.carryOver
}

// Activate implements icap.Service. Preview is requested for every content
// type; classification happens per transaction from the real header.
func (s *Service) Activate(sc *icap.ServiceConfig) error {
	if sc == nil {
		return icap.ErrInvalidConfig
	}

	sc.SetPreview(s.previewSize)
	sc.Enable204()
	sc.SetTransferPreview(icap.TransferPreviewAll)

	if !s.marker.Enabled() {
		s.logger.Warn("marker tokens differ in length; body rewrite disabled",
			"marker", s.marker.String(),
		)
	}
	s.logger.Info("rewrite service configured",
		"marker", s.marker.String(),
		"carry_over", s.carryOver,
	)
	return nil
}

// Deactivate implements icap.Service. There are no process-wide resources
// beyond the configuration.
func (s *Service) Deactivate() {
	s.logger.Debug("rewrite service shut down")
}

// OnPreview implements icap.Service. The marker scan needs the whole body,
// so preview never short-circuits the transaction.
func (s *Service) OnPreview(_ []byte, _ *Context) icap.Status {
	return icap.StatusContinue
}

// OnEndOfData implements icap.Service.
func (s *Service) OnEndOfData(_ *Context) icap.Status {
	return icap.StatusOK
}

// acquire reserves a transaction slot. The returned release func must be
// called exactly once.
func (s *Service) acquire() (func(), bool) {
	if s.slots == nil {
		return func() {}, true
	}
	if !s.slots.TryAcquire(1) {
		return nil, false
	}
	return func() { s.slots.Release(1) }, true
}
