// Package svcauth verifies the bearer token the callback sidecar attaches
// to its control-plane requests (§6.4's callback->control-plane wiring).
// Extracting a caller identity from the token is out of scope here — this
// only confirms the token was signed with the shared secret and hasn't
// expired, the stub interface spec.md leaves room for a full auth layer
// to later replace.
package svcauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrMissingToken = errors.New("svcauth: missing bearer token")
	ErrInvalidToken = errors.New("svcauth: invalid token")
)

// Claims is the minimal claim set carried on a service token.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier checks a bearer token's signature and expiry.
type Verifier interface {
	Verify(tokenString string) error
}

// HMACVerifier verifies tokens signed with a shared HS256 secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// RequireBearer returns gin middleware rejecting requests without a token
// that v accepts. A nil Verifier disables the check entirely (no shared
// secret configured, e.g. local development).
func RequireBearer(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		tokenString, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": ErrMissingToken.Error()})
			return
		}
		if err := v.Verify(tokenString); err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
