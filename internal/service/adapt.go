// Package service drives adaptation sessions for the admin HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"icap-rewrite-go/internal/client"
	"icap-rewrite-go/internal/config"
	"icap-rewrite-go/internal/icap"
	"icap-rewrite-go/internal/model"
	"icap-rewrite-go/internal/rewrite"
)

// ErrOriginDisabled is returned by Forward when no origin is configured.
var ErrOriginDisabled = errors.New("origin proxy disabled: set upstream.base_url")

// Engine is the host engine bound to the rewrite service.
type Engine = icap.Engine[*rewrite.Context]

// NewEngine activates the rewrite service and returns its host engine.
func NewEngine(svc *rewrite.Service, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	return icap.NewEngine[*rewrite.Context](svc, cfg.Engine.ChunkSize, logger)
}

// forwardableRequestHeaders are the only request headers forwarded to the origin.
// Accept-Encoding is withheld so the origin answers with an identity body.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Cache-Control",
	"Content-Type",
	"Content-Length",
	"If-Modified-Since",
	"If-None-Match",
}

// forwardableResponseHeaders are the only origin response headers kept.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Content-Language": true,
	"Cache-Control":    true,
	"Date":             true,
	"Expires":          true,
	"Last-Modified":    true,
	"Location":         true,
	"X-Request-Id":     true,
}

const userAgent = "icap-rewrite-go/1.0"

// AdaptService runs messages through the host engine.
type AdaptService struct {
	engine  *Engine
	client  *client.OriginClient
	logger  *slog.Logger
	baseURL *url.URL // nil when the origin proxy is disabled
}

// NewAdaptService creates an AdaptService.
func NewAdaptService(e *Engine, c *client.OriginClient, cfg *config.Config, logger *slog.Logger) (*AdaptService, error) {
	s := &AdaptService{
		engine: e,
		client: c,
		logger: logger.With("component", "adapt_service"),
	}

	if cfg.Upstream.OriginEnabled() {
		u, err := url.Parse(cfg.Upstream.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream base_url: %w", err)
		}
		s.baseURL = u
	}
	return s, nil
}

// OriginEnabled reports whether Forward can reach an origin.
func (s *AdaptService) OriginEnabled() bool {
	return s.baseURL != nil
}

// Adapt runs a single message through a session. For RESPMOD the returned
// headers are the adapted response headers; for REQMOD the request headers.
// The caller is responsible for closing the response body.
func (s *AdaptService) Adapt(ar *model.AdaptRequest) (*model.ProxyResponse, error) {
	var (
		tx     *icap.Transaction
		header func() http.Header
	)
	switch ar.Method {
	case icap.MethodRespMod:
		tx = icap.NewRespMod(nil, ar.Header)
		header = tx.ResponseHeaders
	case icap.MethodReqMod:
		tx = icap.NewReqMod(ar.Header)
		header = tx.RequestHeaders
	default:
		closeBody(ar.Body)
		return nil, fmt.Errorf("%s: %w", ar.Method, icap.ErrMethodNotAllowed)
	}

	body, err := s.stream(ar.Ctx, tx, ar.Body)
	if err != nil {
		return nil, err
	}

	return &model.ProxyResponse{
		StatusCode: http.StatusOK,
		Header:     header(),
		Body:       body,
	}, nil
}

// Forward sends a ProxyRequest to the origin and returns the response with
// its body adapted as a RESPMOD transaction. The caller is responsible for
// closing the response body.
func (s *AdaptService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	if s.baseURL == nil {
		closeBody(pr.Body)
		return nil, ErrOriginDisabled
	}

	upstreamURL := s.buildUpstreamURL(pr.Path, pr.Query)
	header := s.filterRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to origin: %w", err)
	}

	tx := icap.NewRespMod(header, s.filterResponseHeaders(resp.Header))
	body, err := s.stream(pr.Ctx, tx, resp.Body)
	if err != nil {
		return nil, err
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     tx.ResponseHeaders(),
		Body:       body,
	}, nil
}

// stream opens a session for tx synchronously, so the header decision is
// made before the caller sees the headers, then pumps the body through it
// on a goroutine. Closing the returned reader aborts the transaction.
func (s *AdaptService) stream(ctx context.Context, tx *icap.Transaction, body io.ReadCloser) (io.ReadCloser, error) {
	sess, err := s.engine.Begin(tx)
	if err != nil {
		closeBody(body)
		return nil, fmt.Errorf("begin %s: %w", tx.Method(), err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer sess.Close()

		st, err := sess.Stream(ctx, body, pw)
		closeBody(body)

		if err != nil {
			s.logger.Warn("adaptation aborted",
				"icap_method", tx.Method().String(),
				"err", err,
			)
		} else {
			s.logger.Debug("transaction adapted",
				"icap_method", tx.Method().String(),
				"textual", sess.Data().Textual(),
				"replacements", sess.Data().Replacements(),
				"chunks", st.Chunks,
				"bytes", st.BytesOut,
			)
		}
		pw.CloseWithError(err)
	}()

	return pr, nil
}

func (s *AdaptService) buildUpstreamURL(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	u.RawQuery = query.Encode()
	return u.String()
}

func (s *AdaptService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	dst.Set("User-Agent", userAgent)
	return dst
}

func (s *AdaptService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

func closeBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
