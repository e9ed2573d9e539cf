package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
	"github.com/vyrodovalexey/avabearer/internal/auth/claimcheck"
	"github.com/vyrodovalexey/avabearer/internal/auth/jwt"
)

// GinResultKey is the gin context key holding the verified *jwt.Result.
const GinResultKey = "bearer_result"

// GinMiddleware returns a gin handler that authenticates every request.
func (a *Authenticator) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.skip(c.Request.URL.Path) {
			c.Next()
			return
		}

		result, err := a.Authenticate(c.Request)
		if err != nil {
			a.logFailure(c.Request.Context(), TransportHTTP, c.Request.Method+" "+c.FullPath(), err)
			abortGin(c, err)
			return
		}

		if result != nil {
			c.Set(GinResultKey, result)
			c.Request = c.Request.WithContext(ContextWithResult(c.Request.Context(), result))
		}
		c.Next()
	}
}

// GinRequireClaims returns a gin handler that runs checks against the token
// stored by GinMiddleware. A request without a verified token is rejected
// as unauthorized, even when no checks are given.
func GinRequireClaims(checks ...claimcheck.Check) gin.HandlerFunc {
	check := requireToken(checks...)
	return func(c *gin.Context) {
		var payload map[string]any
		if result, ok := GinResult(c); ok {
			payload = result.Payload
		}
		if err := check(payload); err != nil {
			abortGin(c, err)
			return
		}
		c.Next()
	}
}

// GinResult returns the verified token stored by GinMiddleware.
func GinResult(c *gin.Context) (*jwt.Result, bool) {
	v, ok := c.Get(GinResultKey)
	if !ok {
		return nil, false
	}
	result, ok := v.(*jwt.Result)
	return result, ok
}

func abortGin(c *gin.Context, err error) {
	be := bearer.AsError(err)
	c.Header(HeaderWWWAuthenticate, be.WWWAuthenticate())
	c.AbortWithStatusJSON(be.Status(), newErrorResponse(be))
}
