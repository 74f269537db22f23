package api

import (
	"net/http"

	"github.com/xraph/forge"
)

func (a *API) registerHealthRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("health"))

	return g.GET("/health", a.health,
		forge.WithSummary("Health check"),
		forge.WithDescription("Reports whether the backing store answers pings."),
		forge.WithOperationID("health"),
		forge.WithResponseSchema(http.StatusOK, "Health status", HealthResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) health(ctx forge.Context, _ *HealthRequest) (*HealthResponse, error) {
	resp := &HealthResponse{Status: "ok"}
	if err := a.store.Ping(ctx.Context()); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		return resp, ctx.JSON(http.StatusServiceUnavailable, resp)
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}
