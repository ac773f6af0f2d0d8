package mware_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medassist/user-state/internal/http-server/mware"
	"github.com/medassist/user-state/internal/lib/jwt"
)

type mockJWTMaker struct {
	ParseFunc func(tokenStr string) (*jwt.CustomClaims, error)
}

func (m *mockJWTMaker) GenerateToken(username, role string) (string, error) {
	return "", nil
}

func (m *mockJWTMaker) ParseToken(tokenStr string) (*jwt.CustomClaims, error) {
	return m.ParseFunc(tokenStr)
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

func makeLogger() *slog.Logger {
	return slog.New(discardHandler{})
}

func TestJWTMiddleware(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		maker := &mockJWTMaker{
			ParseFunc: func(tokenStr string) (*jwt.CustomClaims, error) {
				require.Equal(t, "valid-token", tokenStr)
				return &jwt.CustomClaims{Username: "operator", Role: "admin"}, nil
			},
		}

		nextCalled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler := mware.JWTMiddleware(maker, makeLogger())(next)
		handler.ServeHTTP(w, req)

		assert.True(t, nextCalled, "next handler must be called")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing Authorization header", func(t *testing.T) {
		maker := &mockJWTMaker{}
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("next handler should not be called on missing header")
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		handler := mware.JWTMiddleware(maker, makeLogger())(next)
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "missing or invalid authorization header")
	})

	t.Run("invalid or expired token", func(t *testing.T) {
		maker := &mockJWTMaker{
			ParseFunc: func(tokenStr string) (*jwt.CustomClaims, error) {
				return nil, errors.New("token expired")
			},
		}
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("next handler should not be called on invalid token")
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		w := httptest.NewRecorder()

		handler := mware.JWTMiddleware(maker, makeLogger())(next)
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid or expired token")
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("requests within burst pass", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		handler := mware.RateLimitMiddleware(makeLogger(), 1, 2)(next)

		for range 2 {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("burst exceeded returns 429", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		handler := mware.RateLimitMiddleware(makeLogger(), 1, 1)(next)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		req = httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "too many requests")
	})

	t.Run("addresses are limited independently", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		handler := mware.RateLimitMiddleware(makeLogger(), 1, 1)(next)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.3:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		req = httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.4:1234"
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
