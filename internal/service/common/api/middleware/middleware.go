/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/google/uuid"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	common "github.com/open-zaak/notificaties-server/internal/service/common/api"
)

type Middleware = func(http.Handler) http.Handler

// ChainHandlers applies each middleware in order to the base router.
func ChainHandlers(base http.Handler, wrappers ...Middleware) http.Handler {
	h := base
	for _, wrap := range wrappers {
		h = wrap(h)
	}
	return h
}

type durationLogger struct {
	http.ResponseWriter
	statusCode int
}

func (d *durationLogger) WriteHeader(statusCode int) {
	d.statusCode = statusCode
	d.ResponseWriter.WriteHeader(statusCode)
}

// LogDuration log time taken to complete a request.
func LogDuration() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			d := durationLogger{
				ResponseWriter: w,
			}
			next.ServeHTTP(&d, r)
			slog.Debug("Request completed", "method", r.Method, "url", r.RequestURI, "status", d.statusCode, "duration", time.Since(startTime).String())
		})
	}
}

// UUIDValidator ensures a valid UUID in request paths and bodies
type UUIDValidator struct{}

// Validate checks if a string is a valid UUID
func (v UUIDValidator) Validate(value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return err // nolint: wrapcheck
	}
	return nil
}

// OpenAPIValidation validates all incoming requests against the API document
func OpenAPIValidation(swagger *openapi3.T) Middleware {
	// Clear out the servers array in the swagger spec, that skips validating
	// that server names match. We don't know how this thing will be run.
	swagger.Servers = nil

	// explicitly register `cloudevents+json` so CloudEvent bodies are decoded
	openapi3filter.RegisterBodyDecoder("application/cloudevents+json", openapi3filter.JSONBodyDecoder)

	// explicitly register `merge-patch+json` needed for validation during patch requests
	openapi3filter.RegisterBodyDecoder("application/merge-patch+json", openapi3filter.JSONBodyDecoder)

	// explicitly enable validation for uuid format
	openapi3.DefineStringFormatValidator("uuid", UUIDValidator{})

	return oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc, // Publisher auth is an opaque gate in front of us
			// Clients routinely echo fetched objects back on PUT, url included
			ExcludeReadOnlyValidations: true,
		},
		ErrorHandler: getValidationErrHandler(),
	})
}

// TrailingSlashStripper allow API calls with trailing "/"
func TrailingSlashStripper() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProblemDetails writes an error message using the problem+json header
func ProblemDetails(w http.ResponseWriter, body string, code int) {
	WriteProblem(w, common.ProblemDetails{
		Detail: body,
		Status: code,
	})
}

// WriteProblem writes a fully populated problem body
func WriteProblem(w http.ResponseWriter, problem common.ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	w.WriteHeader(problem.Status)
	out, _ := json.Marshal(problem)
	_, err := fmt.Fprintln(w, string(out))
	if err != nil {
		slog.Error("failed to write problem response", "error", err)
	}
}

// getValidationErrHandler adapts the request validator's plain errors
func getValidationErrHandler() func(w http.ResponseWriter, message string, statusCode int) {
	return func(w http.ResponseWriter, message string, statusCode int) {
		ProblemDetails(w, message, statusCode)
	}
}

// GetRequestErrFunc handles malformed requests
func GetRequestErrFunc() func(w http.ResponseWriter, r *http.Request, err error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		ProblemDetails(w, err.Error(), http.StatusBadRequest)
	}
}

// GetResponseErrFunc handles errors raised while writing responses
func GetResponseErrFunc() func(w http.ResponseWriter, r *http.Request, err error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		ProblemDetails(w, err.Error(), http.StatusInternalServerError)
	}
}
