// Authorization middleware.
// Parses the signed authorization header into the request context.
// Signature verification happens downstream where the key's secret is
// known; this layer only rejects requests with no parseable header.
package routes

import (
	"github.com/gin-gonic/gin"

	"lockd/internal/auth"
)

const authHeaderKey = "authHeader"

// RequireAuthorization parses the authorization header and stores it in
// the context. Requests without a well-formed header are rejected.
func RequireAuthorization() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(auth.HeaderField)
		if raw == "" {
			AbortWithError(c, auth.ErrMalformedHeader)
			return
		}

		header, err := auth.ParseHeader(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(authHeaderKey, header)
		c.Next()
	}
}

// GetAuthorization returns the parsed header stored by RequireAuthorization.
func GetAuthorization(c *gin.Context) (auth.Header, bool) {
	v, exists := c.Get(authHeaderKey)
	if !exists {
		return auth.Header{}, false
	}
	header, ok := v.(auth.Header)
	return header, ok
}
