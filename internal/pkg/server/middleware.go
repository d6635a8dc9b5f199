package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anicoll/homeconnect-integration/pkg/hasher"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const apiKeyHeader = "X-API-Key"

func LoggingMiddleware(next http.Handler) http.Handler {
	logger := zap.L()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		origin := r.Header.Get("Origin")
		if origin != "" {
			ww.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next.ServeHTTP(ww, r)
		logger.Info(r.RequestURI,
			zap.String("method", r.Method),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// APIKeyMiddleware accepts requests carrying a key matching the bcrypt hash,
// either in the X-API-Key header, as a bearer token or as the api_key query
// parameter for websocket clients.
func APIKeyMiddleware(hash string) func(http.Handler) http.Handler {
	var verified sync.Map
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, errMissingAPIKey)
				return
			}
			if _, ok := verified.Load(key); !ok {
				if !hasher.PasswordCorrect(key, hash) {
					writeError(w, http.StatusUnauthorized, errInvalidAPIKey)
					return
				}
				verified.Store(key, struct{}{})
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("api_key")
}
