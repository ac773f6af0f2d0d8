// Package mware содержит middleware для HTTP-сервера.
// Здесь реализована проверка JWT-токена на админских маршрутах
// и ограничение частоты запросов к платёжному вебхуку.
package mware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/medassist/user-state/internal/http-server/response"
	"github.com/medassist/user-state/internal/lib/jwt"
	"github.com/medassist/user-state/internal/lib/sl"
)

// JWTMiddleware возвращает middleware, которое проверяет JWT-токен в заголовке Authorization.
// Логика работы:
//  1. Считывает значение заголовка Authorization.
//  2. Проверяет, что он начинается с "Bearer ".
//  3. Валидирует токен секретным ключом сервиса.
//  4. Передаёт управление следующему обработчику.
func JWTMiddleware(jwtMaker jwt.Maker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const op = "mware.JWTMiddleware"

			log = log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))

				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			_, err := jwtMaker.ParseToken(tokenStr)
			if err != nil {
				log.Error("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))

				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware ограничивает частоту запросов по IP-адресу клиента.
// Используется на вебхуке платёжного шлюза: лимитер на каждый адрес
// создаётся лениво и живёт до перезапуска сервиса.
func RateLimitMiddleware(log *slog.Logger, rps float64, burst int) func(http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		lim, ok := limiters[ip]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[ip] = lim
		}
		return lim
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "mware.RateLimitMiddleware"

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !limiterFor(ip).Allow() {
				log.Warn("rate limit exceeded",
					slog.String("op", op),
					slog.String("ip", ip),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				)
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))

				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
