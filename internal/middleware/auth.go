package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"carpilot-backend/internal/models"
	"carpilot-backend/internal/repository"
)

type contextKey string

const UserKey contextKey = "current_user"

// SessionAuth resolves a Bearer access token to the current user. The token
// is an HS256 JWT carrying a user_id claim; the user record is verified
// against Postgres through a short-lived Redis cache.
//
// Every failure mode produces the same generic 401 body. Distinguishing
// missing header, malformed token, unknown user and lookup errors would
// leak information.
type SessionAuth struct {
	secret []byte
	users  *repository.UserRepo
	redis  *redis.Client
}

func NewSessionAuth(secret string, users *repository.UserRepo, redisClient *redis.Client) *SessionAuth {
	return &SessionAuth{
		secret: []byte(secret),
		users:  users,
		redis:  redisClient,
	}
}

func (a *SessionAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeAuthError(w)
			return
		}

		userID, ok := a.parseToken(parts[1])
		if !ok {
			writeAuthError(w)
			return
		}

		user, err := a.lookupUser(r.Context(), userID)
		if err != nil || !user.IsActive {
			writeAuthError(w)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *SessionAuth) parseToken(tokenStr string) (uuid.UUID, bool) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, false
	}
	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

func (a *SessionAuth) lookupUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	cacheKey := "session_user:" + userID.String()
	if cached, err := a.redis.Get(ctx, cacheKey).Result(); err == nil {
		user := &models.User{}
		if err := json.Unmarshal([]byte(cached), user); err == nil {
			return user, nil
		}
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	a.users.TouchLastSeen(ctx, userID)

	if data, err := json.Marshal(user); err == nil {
		a.redis.Set(ctx, cacheKey, data, 5*time.Minute)
	}
	return user, nil
}

// GetUser extracts the authenticated user from the request context.
func GetUser(ctx context.Context) *models.User {
	user, _ := ctx.Value(UserKey).(*models.User)
	return user
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: models.APIError{
			Message: "Invalid API key",
			Type:    "authentication_error",
			Code:    http.StatusUnauthorized,
		},
	})
}
