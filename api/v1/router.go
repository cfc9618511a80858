package v1

import (
	"go_certagent/api/v1/middleware"
	"go_certagent/api/v1/renewals"
	"go_certagent/internal/auth"
	"go_certagent/internal/httpx"
	"go_certagent/internal/plugin"

	"github.com/gin-gonic/gin"
)

// Deps are the services the API is built on
type Deps struct {
	Store    renewals.Store
	Runner   renewals.Runner
	Registry *plugin.Registry
	Issuer   *auth.Issuer
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, deps Deps) {
	v1 := r.Group("/api/v1")
	{
		// Public routes
		v1.GET("/ping", pingHandler)

		h := renewals.NewHandler(deps.Store, deps.Runner, deps.Registry)

		read := v1.Group("/renewals")
		read.Use(middleware.AuthRequired(deps.Issuer, auth.ScopeRead))
		{
			read.GET("", h.List)
			read.GET("/:id", h.Get)
		}

		run := v1.Group("/renewals")
		run.Use(middleware.AuthRequired(deps.Issuer, auth.ScopeRun))
		{
			run.POST("/:id/run", h.Run)
			run.POST("/:id/cancel", h.Cancel)
		}

		v1.GET("/me", middleware.AuthRequired(deps.Issuer, ""), meHandler)
	}
}

func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{"pong": true})
}

// meHandler returns the subject and scopes of the calling token
func meHandler(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)
	httpx.OK(c, gin.H{
		"subject":   claims.Subject,
		"scopes":    claims.Scopes,
		"expiresAt": claims.ExpiresAt,
	})
}
