package icap

import (
	"net/http"
	"net/textproto"
	"strings"
)

// Transaction is an in-memory Request holding the encapsulated HTTP headers
// of one adaptation. A REQMOD transaction carries no response headers.
type Transaction struct {
	method         Method
	requestHeader  http.Header
	responseHeader http.Header
}

// NewRespMod returns a RESPMOD transaction. The response header map is
// cloned so header injection never touches the caller's map.
func NewRespMod(reqHeader, respHeader http.Header) *Transaction {
	if respHeader == nil {
		respHeader = make(http.Header)
	}
	return &Transaction{
		method:         MethodRespMod,
		requestHeader:  reqHeader.Clone(),
		responseHeader: respHeader.Clone(),
	}
}

// NewReqMod returns a REQMOD transaction.
func NewReqMod(reqHeader http.Header) *Transaction {
	return &Transaction{
		method:        MethodReqMod,
		requestHeader: reqHeader.Clone(),
	}
}

// Method implements Request.
func (t *Transaction) Method() Method {
	return t.method
}

// RequestHeaders returns the encapsulated HTTP request headers.
func (t *Transaction) RequestHeaders() http.Header {
	return t.requestHeader
}

// ResponseHeaders returns the encapsulated HTTP response headers, or nil for REQMOD.
func (t *Transaction) ResponseHeaders() http.Header {
	return t.responseHeader
}

// ResponseHeader implements Request.
func (t *Transaction) ResponseHeader(name string) (string, bool) {
	if t.responseHeader == nil {
		return "", false
	}
	vals := t.responseHeader.Values(name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// AddResponseHeader implements Request.
func (t *Transaction) AddResponseHeader(line string) bool {
	name, value, ok := t.parseLine(line)
	if !ok {
		return false
	}
	t.responseHeader.Add(name, value)
	return true
}

// SetResponseHeader implements Request.
func (t *Transaction) SetResponseHeader(line string) bool {
	name, value, ok := t.parseLine(line)
	if !ok {
		return false
	}
	t.responseHeader.Set(name, value)
	return true
}

func (t *Transaction) parseLine(line string) (name, value string, ok bool) {
	if t.responseHeader == nil {
		return "", "", false
	}
	name, value, ok = strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t\r\n") {
		return "", "", false
	}
	return textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value), true
}
