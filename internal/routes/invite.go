package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lockd/internal/invite"
	"lockd/internal/protocol"
)

// InviteApi resolves invitation link tokens. The token itself is the
// credential; any decode failure is reported as an unknown invitation
// so the response does not distinguish tampering from expiry.
func InviteApi(r *gin.RouterGroup, invites *invite.Service) {
	r.GET("/:token", func(c *gin.Context) {
		invitation, err := invites.Decode(c.Param("token"))
		if err != nil {
			AbortWithError(c, protocol.ErrUnknownOrExpiredInvitation)
			return
		}

		c.JSON(http.StatusOK, invitation)
	})
}
