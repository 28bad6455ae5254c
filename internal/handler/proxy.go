package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"icap-rewrite-go/internal/icap"
	"icap-rewrite-go/internal/model"
	"icap-rewrite-go/internal/rewrite"
	"icap-rewrite-go/internal/service"
)

// userinfoPattern matches credentials embedded in URLs quoted by error messages.
var userinfoPattern = regexp.MustCompile(`(://)[^/@\s"]+@`)

// ProxyHandler forwards requests to the origin and adapts the responses.
type ProxyHandler struct {
	service *service.AdaptService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.AdaptService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies /origin/* to the origin and streams the adapted response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Path:   "/" + c.Param("*"),
		Query:  req.URL.Query(),
		Header: req.Header,
		Body:   req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return mapError(c, h.logger, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent; a mid-stream failure leaves the client
	// with a truncated body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", pr.Path,
		)
	}

	return nil
}

func mapError(c echo.Context, logger *slog.Logger, err error) error {
	logger.Error("adaptation error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrOriginDisabled) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "origin proxy disabled",
		})
	}

	if errors.Is(err, rewrite.ErrContextAllocation) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "adaptation capacity exhausted",
		})
	}

	if errors.Is(err, icap.ErrMethodNotAllowed) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "adaptation method not supported",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "origin request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "origin request failed",
	})
}

// sanitizeError redacts URL credentials from error messages.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
