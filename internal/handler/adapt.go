package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"icap-rewrite-go/internal/icap"
	"icap-rewrite-go/internal/model"
	"icap-rewrite-go/internal/service"
)

// AdaptHandler runs a submitted message body through the adaptation service.
type AdaptHandler struct {
	service *service.AdaptService
	logger  *slog.Logger
}

// NewAdaptHandler creates an AdaptHandler.
func NewAdaptHandler(svc *service.AdaptService, logger *slog.Logger) *AdaptHandler {
	return &AdaptHandler{
		service: svc,
		logger:  logger.With("component", "adapt_handler"),
	}
}

// Handle treats the request headers and body as the encapsulated message.
// The method query parameter selects RESPMOD (default) or REQMOD.
func (h *AdaptHandler) Handle(c echo.Context) error {
	req := c.Request()

	method := icap.MethodRespMod
	if v := c.QueryParam("method"); v != "" {
		m, ok := icap.ParseMethod(v)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "method must be respmod or reqmod",
			})
		}
		method = m
	}

	header := make(http.Header)
	for _, key := range []string{"Content-Type", "Content-Language"} {
		if vals := req.Header.Values(key); len(vals) > 0 {
			header[key] = vals
		}
	}

	resp, err := h.service.Adapt(&model.AdaptRequest{
		Ctx:    req.Context(),
		Method: method,
		Header: header,
		Body:   req.Body,
	})
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

	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming adapted body",
			"err", err,
			"icap_method", method.String(),
		)
	}
	return nil
}
