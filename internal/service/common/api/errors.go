/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// InvalidParam describes a single field-level validation failure.
type InvalidParam struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// ProblemDetails is the error body returned by every endpoint, serialized as
// application/problem+json. Code carries the machine-readable validation code
// publishers match on.
type ProblemDetails struct {
	Title         string         `json:"title,omitempty"`
	Status        int            `json:"status"`
	Detail        string         `json:"detail,omitempty"`
	Code          string         `json:"code,omitempty"`
	InvalidParams []InvalidParam `json:"invalidParams,omitempty"`
}

// interceptor works around a limitation of the http.ServeMux: the mux does
// not allow customizing its error handlers, so its plain text errors are
// rewritten into JSON formatted responses here.
//
// see: https://github.com/golang/go/issues/65648
type interceptor struct {
	original    http.ResponseWriter
	statusCode  int
	intercepted bool
}

// Header returns the headers stored in the underlying original ResponseWriter
func (e *interceptor) Header() http.Header {
	return e.original.Header()
}

// WriteHeader sets the status code and determines if a plain text header has
// already been set. If so, the header is overwritten to an
// application/problem+json header with the expectation that when Write is
// called with the actual error text it will be reformatted to JSON.
func (e *interceptor) WriteHeader(statusCode int) {
	if strings.Contains(e.original.Header().Get("Content-Type"), "text/plain") {
		e.original.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
		e.intercepted = true
	}
	e.statusCode = statusCode
	e.original.WriteHeader(statusCode)
}

// Write passes the data through directly or converts it to JSON first,
// depending on what kind of header was written previously.
func (e *interceptor) Write(data []byte) (int, error) {
	var out []byte
	if e.intercepted {
		out, _ = json.Marshal(ProblemDetails{
			Detail: strings.TrimSpace(string(data)),
			Status: e.statusCode,
		})
	} else {
		out = data
	}
	return e.original.Write(out) //nolint:wrapcheck
}

// ErrorJsonifier wraps a http.ServeMux so that plain text error responses
// become JSON.
type ErrorJsonifier struct {
	mux *http.ServeMux
}

// NewErrorJsonifier creates a new instance of an ErrorJsonifier
func NewErrorJsonifier(router *http.ServeMux) *ErrorJsonifier {
	return &ErrorJsonifier{mux: router}
}

// HandleFunc calls the HandleFunc method on the original http.ServeMux
func (e *ErrorJsonifier) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	e.mux.HandleFunc(pattern, handler)
}

// ServeHTTP calls the ServeHTTP method on the original http.ServeMux by
// substituting the ResponseWriter with an implementation that intercepts
// plain text error responses.
func (e *ErrorJsonifier) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	e.mux.ServeHTTP(&interceptor{
		original: writer,
	}, request)
}
