package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/getzep/clipserve/config"
	"github.com/getzep/clipserve/pkg/models"
	"github.com/getzep/clipserve/pkg/server/handlertools"
)

const (
	versionHeader   = "X-Clipserve-Version"
	requestIDHeader = "X-Request-Id"
)

// RequestID propagates the caller's X-Request-Id or assigns a new UUID. The ID is stored
// under chi's key so middleware.GetReqID and the access log see it.
func RequestID(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
	return http.HandlerFunc(fn)
}

// SendVersion is a middleware that adds the current version to the response
func SendVersion(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get(versionHeader) == "" {
			w.Header().Add(
				versionHeader,
				config.VersionString,
			)
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// RenderPanics recovers from panics in downstream handlers and renders them as
// internal errors so clients always receive the JSON error shape.
func RenderPanics(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}

			log.WithField("request_id", middleware.GetReqID(r.Context())).
				Errorf("panic serving %s: %v\n%s", r.URL.Path, rvr, debug.Stack())
			handlertools.RenderError(
				w,
				models.NewInternalError("handler", fmt.Errorf("%v", rvr)),
			)
		}()
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
