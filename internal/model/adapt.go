// Package model defines shared types for the adaptation service.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"icap-rewrite-go/internal/icap"
)

// AdaptRequest is an encapsulated HTTP message submitted for adaptation.
// For RESPMOD, Header holds the response headers; for REQMOD, the request headers.
type AdaptRequest struct {
	Ctx    context.Context
	Method icap.Method
	Header http.Header
	Body   io.ReadCloser
}

// ProxyRequest represents a client request to be forwarded to the origin.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   io.ReadCloser
}

// ProxyResponse is a message streamed back to the client. When it comes out
// of an adaptation, Body yields the adapted bytes.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
