package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"icap-rewrite-go/internal/client"
	"icap-rewrite-go/internal/config"
	"icap-rewrite-go/internal/icap"
	"icap-rewrite-go/internal/metrics"
	"icap-rewrite-go/internal/rewrite"
	"icap-rewrite-go/internal/service"
)

func testConfig(originURL string) *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			PreviewSize: 1024,
			Marker:      config.MarkerConfig{Source: "ORIGINAL", Replacement: "REPLACED"},
		},
		Engine: config.EngineConfig{ChunkSize: 8192},
		Upstream: config.UpstreamConfig{
			BaseURL:         originURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type testDeps struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	engine  *service.Engine
	svc     *service.AdaptService
}

func newTestDeps(t *testing.T, cfg *config.Config) *testDeps {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	rs, err := rewrite.New(cfg, logger, m)
	if err != nil {
		t.Fatalf("rewrite.New: %v", err)
	}
	e, err := service.NewEngine(rs, cfg, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)

	svc, err := service.NewAdaptService(e, client.NewOriginClient(cfg, logger, m), cfg, logger)
	if err != nil {
		t.Fatalf("NewAdaptService: %v", err)
	}
	return &testDeps{cfg: cfg, logger: logger, metrics: m, engine: e, svc: svc}
}

func respModTx() *icap.Transaction {
	return icap.NewRespMod(nil, http.Header{"Content-Type": {"text/plain"}})
}
