// Package api provides the REST handlers for the command console.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/schema"

	"github.com/ashureev/commanddeck/internal/store"
)

// SessionCounter reports the number of live console sessions.
type SessionCounter interface {
	Count() int
}

// Handler serves the REST surface over the user store.
type Handler struct {
	repo     store.Repository
	sessions SessionCounter
}

// NewHandler creates a new Handler. sessions may be nil.
func NewHandler(repo store.Repository, sessions SessionCounter) *Handler {
	return &Handler{repo: repo, sessions: sessions}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type codedError struct {
	err   error
	code  int
	cause error
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.err
}

// CodedError attaches an HTTP status to err. The message is shown to clients.
func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

// CodedErrorf formats a client-facing error with an HTTP status.
func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

// InternalError answers 500 with message while logging cause.
func InternalError(message string, cause error) error {
	return &codedError{err: errors.New(message), code: http.StatusInternalServerError, cause: cause}
}

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// ParseRequest decodes a JSON request body into T.
func ParseRequest[T any](r *http.Request) (T, error) {
	var data T
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		slog.Debug("error parsing request body", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request body")
	}
	return data, nil
}

// ParseRequestQueryParams decodes the query string into T using schema tags.
func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T
	if err := r.ParseForm(); err != nil {
		slog.Debug("error parsing form", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}
	if err := queryDecoder.Decode(&data, r.Form); err != nil {
		slog.Debug("error decoding query params", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}
	return data, nil
}

// RestHandler adapts a handler returning (body, error) to http.HandlerFunc.
// Coded errors keep their status; anything else is a 500.
func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			var cerr *codedError
			if !errors.As(err, &cerr) {
				slog.Error("received non coded error from endpoint", "path", r.URL.Path, "error", err)
				Error(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if cerr.code >= http.StatusInternalServerError {
				slog.Error("internal server error received in endpoint", "path", r.URL.Path, "error", err, "cause", cerr.cause)
			}
			Error(w, cerr.code, cerr.Error())
			return
		}

		if res == nil {
			res = struct{}{}
		}
		JSON(w, http.StatusOK, res)
	}
}

// notFoundOr maps store.ErrNotFound to 404 and anything else to a 500.
func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, store.ErrNotFound) {
		return CodedErrorf(http.StatusNotFound, "%s", notFound)
	}
	return InternalError(internal, err)
}
