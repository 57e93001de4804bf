package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"

	"learnhub/internal/domain"
)

type ctxKey struct{}

// accessTokenParam — параметр запроса с токеном для браузерного WebSocket, который не умеет ставить заголовки.
const accessTokenParam = "access_token"

// SessionClaims — claims access-токена BaaS: sub содержит идентификатор пользователя.
type SessionClaims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionAuth проверяет Bearer-токен (HS256) и кладёт идентификатор пользователя в контекст.
func SessionAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			liftAccessToken(r)
			raw := bearerToken(r)
			if raw == "" {
				WriteError(w, http.StatusUnauthorized, domain.ErrUnauthenticated)
				return
			}
			userID, err := ParseSession(raw, key)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, domain.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// ParseSession проверяет подпись и срок действия токена и возвращает sub.
func ParseSession(raw string, key []byte) (string, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token without subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// AccessTokenFromQuery убирает access_token из URL до журнала запросов и переносит его в Authorization.
func AccessTokenFromQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		liftAccessToken(r)
		next.ServeHTTP(w, r)
	})
}

func liftAccessToken(r *http.Request) {
	q := r.URL.Query()
	if !q.Has(accessTokenParam) {
		return
	}
	token := strings.TrimSpace(q.Get(accessTokenParam))
	q.Del(accessTokenParam)
	r.URL.RawQuery = q.Encode()
	r.RequestURI = r.URL.RequestURI()
	if token != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

// WithUserID кладёт идентификатор пользователя в контекст.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID возвращает идентификатор пользователя из контекста или ErrUnauthenticated.
func UserID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(ctxKey{}).(string)
	if id == "" {
		return "", domain.ErrUnauthenticated
	}
	return id, nil
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет JSON-ответ.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
