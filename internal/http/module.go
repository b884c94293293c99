package http

import (
	"github.com/gin-gonic/gin"
)

// Module represents a bounded context that can register its HTTP routes.
type Module interface {
	// Name returns the module's identifier for logging purposes.
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext provides shared dependencies for module route registration.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is the public /api/v1 group.
	V1 *gin.RouterGroup
	// Ops is /api/v1 behind the ops API key.
	Ops *gin.RouterGroup
}
