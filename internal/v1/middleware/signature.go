package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// contextSignerKey is the gin context key holding the verified signer's public key.
const contextSignerKey = "signerPublicKey"

// Signer returns the public key verified by RequireSignature for this request,
// or "" when the middleware has not run.
func Signer(c *gin.Context) string {
	return c.GetString(contextSignerKey)
}

// RequireSignature verifies the Schnorr signature carried in the request
// headers against METHOD, path and body. On success the signer's public key
// is stored in the gin context; on failure the request is aborted with 401.
//
// The body is consumed for verification and restored so downstream handlers
// can bind it normally.
func RequireSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		publicKey, err := identity.VerifyRequest(c.Request, body)
		if err != nil {
			logging.Warn(c.Request.Context(), "request signature verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Set(contextSignerKey, publicKey)
		c.Set(string(logging.PublicKeyKey), publicKey)
		c.Next()
	}
}

// RequireAdmin aborts with 403 unless the verified signer is the configured
// admin key. Must be chained after RequireSignature.
func RequireAdmin(adminPublicKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		signer := Signer(c)
		if signer == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature required"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(signer), []byte(adminPublicKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin key required"})
			return
		}
		c.Next()
	}
}
