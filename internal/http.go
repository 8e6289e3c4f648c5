package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lockd/internal/invite"
	"lockd/internal/protocol"
	"lockd/internal/routes"
)

func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("X-XSS-Protection", "1; mode=block")

	// Disable caching
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

func HTTPServer() *gin.Engine {
	r := gin.Default()

	r.Use(securityHeaders)
	r.Use(routes.ErrorHandler())

	return r
}

// RegisterRoutes mounts the lock API onto the engine.
func RegisterRoutes(r *gin.Engine, authority *protocol.Authority, lockName string, invites *invite.Service) {
	// Lock identity, for clients discovering which lock they talk to
	r.GET("/lock", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"identifier": authority.LockID(),
			"name":       lockName,
		})
	})

	routes.Health(r.Group("/"))

	// Key roster and invitation lifecycle
	rg := r.Group("/keys")
	routes.KeysApi(rg, authority)

	// Unlock
	rg = r.Group("/unlock")
	routes.UnlockApi(rg, authority)

	// Invitation links
	if invites != nil {
		rg = r.Group("/invite")
		routes.InviteApi(rg, invites)
	}
}
