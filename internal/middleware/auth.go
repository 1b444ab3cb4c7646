package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AdminAuthMiddleware gates the privileged config surface. It accepts either a
// bearer JWT carrying an admin role claim, or the bootstrap admin key checked
// against its stored argon2id hash.
func AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-Admin-Key"); apiKey != "" {
			if !verifyAdminKey(apiKey) {
				http.Error(w, "Invalid admin key", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), "adminID", "bootstrap")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		adminID, err := validateAdminToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "adminID", adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateAdminToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return "", fmt.Errorf("missing admin role")
	}

	return fmt.Sprintf("%v", claims["sub"]), nil
}

// verifyAdminKey compares the presented key against the argon2id hash from
// configuration, in constant time.
func verifyAdminKey(key string) bool {
	storedHex := viper.GetString("admin.key_hash")
	salt := []byte(viper.GetString("admin.key_salt"))
	if storedHex == "" || len(salt) == 0 {
		return false
	}
	stored, err := hex.DecodeString(storedHex)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(key), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(len(stored)))

	return subtle.ConstantTimeCompare(stored, computed) == 1
}
