package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/pawnledger/pkg/metrics"
	"github.com/mcclellann/pawnledger/pkg/models"
	"go.uber.org/zap"
)

// Identity headers set by the auth gateway in front of this service.
const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"
	headerBranchID = "X-Branch-ID"
	headerUserRole = "X-User-Role"
)

type actorKey struct{}

func actorFrom(ctx context.Context) models.Actor {
	a, _ := ctx.Value(actorKey{}).(models.Actor)
	return a
}

// requireActor rejects requests without a valid user and branch.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get(headerUserID))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid " + headerUserID})
			return
		}
		branchID, err := uuid.Parse(r.Header.Get(headerBranchID))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid " + headerBranchID})
			return
		}
		actor := models.Actor{
			UserID:   userID,
			Name:     r.Header.Get(headerUserName),
			BranchID: branchID,
			Role:     r.Header.Get(headerUserRole),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe records request latency per route template and logs each request.
func observe(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			elapsed := time.Since(start)
			metrics.HTTPDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed))
		})
	}
}

// recoverPanics turns a handler panic into a 500.
func recoverPanics(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					log.Error("panic recovered", zap.Any("panic", v), zap.String("path", r.URL.Path))
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
