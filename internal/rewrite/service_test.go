package rewrite

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"icap-rewrite-go/internal/config"
	"icap-rewrite-go/internal/icap"
	"icap-rewrite-go/internal/metrics"
)

type testOptions struct {
	source, replacement string
	carryOver           bool
	maxTransactions     int64
	metrics             *metrics.Metrics
}

func newTestService(t *testing.T, opts testOptions) *Service {
	t.Helper()
	if opts.source == "" {
		opts.source = "ORIGINAL"
	}
	if opts.replacement == "" {
		opts.replacement = "REPLACED"
	}
	cfg := &config.Config{
		Service: config.ServiceConfig{
			PreviewSize:     1024,
			CarryOver:       opts.carryOver,
			MaxTransactions: opts.maxTransactions,
			Marker:          config.MarkerConfig{Source: opts.source, Replacement: opts.replacement},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger, opts.metrics)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func respmod(contentType string) *icap.Transaction {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return icap.NewRespMod(http.Header{}, h)
}

func TestNew_InvalidMarker(t *testing.T) {
	cfg := &config.Config{
		Service: config.ServiceConfig{Marker: config.MarkerConfig{Source: "", Replacement: "X"}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(cfg, logger, nil); !errors.Is(err, ErrInvalidMarker) {
		t.Errorf("New() error = %v, want ErrInvalidMarker", err)
	}
}

func TestDescriptor(t *testing.T) {
	s := newTestService(t, testOptions{})
	d := s.Descriptor()

	if d.Name != "rewrite_demo" {
		t.Errorf("Name = %q, want %q", d.Name, "rewrite_demo")
	}
	if d.Description == "" {
		t.Error("Description is empty")
	}
	if !d.Methods.Has(icap.MethodRespMod) || !d.Methods.Has(icap.MethodReqMod) {
		t.Errorf("Methods = %s, want RESPMOD|REQMOD", d.Methods)
	}
}

func TestActivate(t *testing.T) {
	s := newTestService(t, testOptions{})

	var sc icap.ServiceConfig
	if err := s.Activate(&sc); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	got := sc.Settings()
	if got.PreviewSize != 1024 {
		t.Errorf("PreviewSize = %d, want 1024", got.PreviewSize)
	}
	if !got.Allow204 {
		t.Error("Allow204 = false, want true")
	}
	if got.TransferPreview != "*" {
		t.Errorf("TransferPreview = %q, want %q", got.TransferPreview, "*")
	}

	s.Deactivate()
}

func TestActivate_NilConfig(t *testing.T) {
	s := newTestService(t, testOptions{})
	if err := s.Activate(nil); !errors.Is(err, icap.ErrInvalidConfig) {
		t.Errorf("Activate(nil) error = %v, want ErrInvalidConfig", err)
	}
}

func TestCreateContext_Classification(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/plain", true},
		{"Text/Plain", true},
		{"TEXT/HTML; charset=utf-8", true},
		{"text/", true},
		{"application/octet-stream", false},
		{"application/json", false},
		{"texts/plain", false},
		{"tex", false},
		{"", false},
	}

	s := newTestService(t, testOptions{})
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			c, err := s.CreateContext(respmod(tt.contentType))
			if err != nil {
				t.Fatalf("CreateContext() error = %v", err)
			}
			defer s.DestroyContext(c)

			if c.Textual() != tt.want {
				t.Errorf("Textual() = %v, want %v", c.Textual(), tt.want)
			}
		})
	}
}

func TestCreateContext_HeaderInjectedOnce(t *testing.T) {
	s := newTestService(t, testOptions{})

	for _, ct := range []string{"text/html", "image/png", ""} {
		t.Run(ct, func(t *testing.T) {
			tx := respmod(ct)

			c1, err := s.CreateContext(tx)
			if err != nil {
				t.Fatalf("CreateContext() error = %v", err)
			}
			s.DestroyContext(c1)

			// A host retry must not duplicate the header.
			c2, err := s.CreateContext(tx)
			if err != nil {
				t.Fatalf("CreateContext() retry error = %v", err)
			}
			s.DestroyContext(c2)

			vals := tx.ResponseHeaders().Values(HeaderName)
			if len(vals) != 1 {
				t.Fatalf("%s values = %v, want exactly one", HeaderName, vals)
			}
			if vals[0] != "1" {
				t.Errorf("%s = %q, want %q", HeaderName, vals[0], "1")
			}
		})
	}
}

func TestCreateContext_HeaderNormalized(t *testing.T) {
	tests := []struct {
		name   string
		preset []string
	}{
		{"wrong value", []string{"0"}},
		{"duplicates", []string{"1", "1"}},
		{"mixed", []string{"1", "yes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, testOptions{})
			tx := icap.NewRespMod(nil, http.Header{
				"Content-Type":     {"text/plain"},
				"X-Icap-Rewritten": tt.preset,
			})

			c, err := s.CreateContext(tx)
			if err != nil {
				t.Fatalf("CreateContext() error = %v", err)
			}
			s.DestroyContext(c)

			vals := tx.ResponseHeaders().Values(HeaderName)
			if len(vals) != 1 || vals[0] != "1" {
				t.Errorf("%s after CreateContext = %v, want [1]", HeaderName, vals)
			}
		})
	}
}

func TestActivate_PreviewDisabled(t *testing.T) {
	cfg := &config.Config{
		Service: config.ServiceConfig{
			PreviewSize: config.PreviewDisabled,
			Marker:      config.MarkerConfig{Source: "ORIGINAL", Replacement: "REPLACED"},
		},
	}
	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var sc icap.ServiceConfig
	if err := s.Activate(&sc); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	got := sc.Settings()
	if got.PreviewSize != 0 {
		t.Errorf("PreviewSize = %d, want 0", got.PreviewSize)
	}
	if got.WantsPreview("text/plain") {
		t.Error("WantsPreview() = true with preview disabled")
	}
}

func TestCreateContext_ReqMod(t *testing.T) {
	s := newTestService(t, testOptions{})
	tx := icap.NewReqMod(http.Header{"Content-Type": {"text/plain"}})

	c, err := s.CreateContext(tx)
	if err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}
	defer s.DestroyContext(c)

	// No encapsulated response: not textual and nowhere to put the header.
	if c.Textual() {
		t.Error("Textual() = true for REQMOD without response, want false")
	}
	if tx.ResponseHeaders() != nil {
		t.Errorf("ResponseHeaders() = %v, want nil", tx.ResponseHeaders())
	}
}

func TestCreateContext_Budget(t *testing.T) {
	m := metrics.New()
	s := newTestService(t, testOptions{maxTransactions: 1, metrics: m})

	c1, err := s.CreateContext(respmod("text/plain"))
	if err != nil {
		t.Fatalf("first CreateContext() error = %v", err)
	}

	if _, err := s.CreateContext(respmod("text/plain")); !errors.Is(err, ErrContextAllocation) {
		t.Fatalf("second CreateContext() error = %v, want ErrContextAllocation", err)
	}
	if got := testutil.ToFloat64(m.ContextFailures); got != 1 {
		t.Errorf("context failures = %v, want 1", got)
	}

	s.DestroyContext(c1)
	s.DestroyContext(c1) // must not release the slot twice

	c2, err := s.CreateContext(respmod("text/plain"))
	if err != nil {
		t.Fatalf("CreateContext() after destroy error = %v", err)
	}
	defer s.DestroyContext(c2)

	if _, err := s.CreateContext(respmod("text/plain")); !errors.Is(err, ErrContextAllocation) {
		t.Errorf("CreateContext() error = %v, want ErrContextAllocation after double destroy", err)
	}
}

func TestDestroyContext_Idempotent(t *testing.T) {
	m := metrics.New()
	s := newTestService(t, testOptions{metrics: m})

	s.DestroyContext(nil)

	c, err := s.CreateContext(respmod("text/plain"))
	if err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}
	if got := testutil.ToFloat64(m.TransactionsInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}

	s.DestroyContext(c)
	s.DestroyContext(c)

	if got := testutil.ToFloat64(m.TransactionsInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestOnPreviewAndEndOfData(t *testing.T) {
	s := newTestService(t, testOptions{})
	c, err := s.CreateContext(respmod("text/plain"))
	if err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}
	defer s.DestroyContext(c)

	for _, preview := range [][]byte{nil, []byte("ORIGINAL"), []byte("binary\x00data")} {
		if got := s.OnPreview(preview, c); got != icap.StatusContinue {
			t.Errorf("OnPreview(%q) = %s, want continue", preview, got)
		}
	}
	if got := s.OnEndOfData(c); got != icap.StatusOK {
		t.Errorf("OnEndOfData() = %s, want ok", got)
	}
}
