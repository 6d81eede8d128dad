package stepflow

import (
	"github.com/gin-gonic/gin"

	"github.com/petrijr/stepflow/pkg/httpapi"
)

// ServerBundle wires a Service together with its HTTP surface: a gin router
// carrying the versioned onboarding routes and a liveness endpoint.
type ServerBundle struct {
	Service Service
	Router  *gin.Engine
	Handler *httpapi.Handler
}

// NewServerBundle mounts the HTTP surface for svc on a fresh gin router.
//
// Typical usage:
//
//	svc := stepflow.NewInMemoryService()
//	bundle := stepflow.NewServerBundle(svc)
//	_ = bundle.Router.Run(":8080")
func NewServerBundle(svc Service) *ServerBundle {
	h := httpapi.NewHandler(svc)

	router := gin.New()
	router.Use(gin.Recovery())

	h.RegisterHealth(router)
	h.RegisterRoutes(router.Group("/v1"))

	return &ServerBundle{
		Service: svc,
		Router:  router,
		Handler: h,
	}
}
