package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lockd/internal/protocol"
)

// KeysApi wires the key listing and invitation lifecycle routes.
// All routes require a signed authorization header.
func KeysApi(r *gin.RouterGroup, authority *protocol.Authority) {
	r.Use(RequireAuthorization())

	// Share an invitation with the lock. The envelope is sealed under
	// the invitation's one-time secret; the sender must hold key
	// management permission. Accepted, not created: the key does not
	// exist until the invitee confirms.
	r.POST("", func(c *gin.Context) {
		header, ok := GetAuthorization(c)
		if !ok {
			AbortWithError(c, ErrInternalServer)
			return
		}

		var req protocol.CreateNewKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}

		if err := authority.CreateNewKey(c.Request.Context(), header, req); err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	})

	// Confirm a pending invitation. Authorized with the invitation's
	// one-time secret, not an existing key.
	r.POST("/confirm", func(c *gin.Context) {
		header, ok := GetAuthorization(c)
		if !ok {
			AbortWithError(c, ErrInternalServer)
			return
		}

		var req protocol.ConfirmNewKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}

		key, err := authority.ConfirmNewKey(c.Request.Context(), header, req)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, key)
	})

	// List keys and pending invitations, sealed under the requester's
	// secret so only the caller can read the roster.
	r.GET("", func(c *gin.Context) {
		header, ok := GetAuthorization(c)
		if !ok {
			AbortWithError(c, ErrInternalServer)
			return
		}

		envelope, err := authority.ListKeys(c.Request.Context(), header)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, envelope)
	})

	// Remove an active key or revoke a pending invitation.
	r.DELETE("/:id", func(c *gin.Context) {
		header, ok := GetAuthorization(c)
		if !ok {
			AbortWithError(c, ErrInternalServer)
			return
		}

		target, err := uuid.Parse(c.Param("id"))
		if err != nil {
			AbortWithError(c, ErrInvalidParameter)
			return
		}

		if err := authority.RemoveKey(c.Request.Context(), header, target); err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	})
}

// UnlockApi wires the unlock route.
func UnlockApi(r *gin.RouterGroup, authority *protocol.Authority) {
	r.Use(RequireAuthorization())

	r.POST("", func(c *gin.Context) {
		header, ok := GetAuthorization(c)
		if !ok {
			AbortWithError(c, ErrInternalServer)
			return
		}

		if err := authority.Unlock(c.Request.Context(), header); err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "unlocked"})
	})
}
