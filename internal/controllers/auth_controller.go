package controllers

import (
	"context"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/afrith/dagflow/pkg/dagflow/core"
)

// AuthController guards API routes with a single bcrypt hashed API key. An
// empty hash leaves the API open.
type AuthController struct {
	ApiKeyHash string
}

func NewAuthController(apiKeyHash string) AuthController {
	return AuthController{ApiKeyHash: apiKeyHash}
}

func (wc *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wc.ApiKeyHash == "" {
			next(w, r)
			return
		}
		// Supported headers: X-API-Key: <key>
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" || bcrypt.CompareHashAndPassword([]byte(wc.ApiKeyHash), []byte(apiKey)) != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), core.CtxKeyApiClient, r.RemoteAddr)
		next(w, r.WithContext(ctx))
	}
}
