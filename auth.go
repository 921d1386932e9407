package main

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func newOrderID() string {
	t, _ := genToken(12)
	return "ord_" + t
}

func hashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

func compareAPIKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

func apiKeyPrefix(key string) string {
	if len(key) >= 8 {
		return key[:8]
	}
	return key
}

// createAdminToken issues an elevated-role session token for dashboard
// operators. Only tokens carrying role=admin pass AdminAuth.
func createAdminToken(subject string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// hasAdminRole reports whether tokenStr is a valid token with role=admin.
func hasAdminRole(tokenStr string) bool {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	role, _ := claims["role"].(string)
	return role == "admin"
}
