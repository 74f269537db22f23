package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard/reconcile"
	"github.com/xraph/rowguard/schema"
)

func (a *API) registerReconcileRoutes(router forge.Router) error {
	g := router.Group("/v1/reconcile", forge.WithGroupTags("reconciliation"))

	if err := g.POST("", a.runReconcile,
		forge.WithSummary("Reconcile policies"),
		forge.WithDescription("Converges installed row policies to the declared binding set. Safe to retry."),
		forge.WithOperationID("runReconcile"),
		forge.WithResponseSchema(http.StatusOK, "Reconciliation outcome", ReconcileResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/policies", a.installedPolicies,
		forge.WithSummary("List installed policies"),
		forge.WithDescription("Returns the policies the registry reports for a resource."),
		forge.WithOperationID("listInstalledPolicies"),
		forge.WithRequestSchema(InstalledPoliciesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Installed policies", InstalledPoliciesResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) runReconcile(ctx forge.Context, _ *ReconcileRequest) (*ReconcileResponse, error) {
	if err := requireService(ctx); err != nil {
		return nil, err
	}

	bindings, err := a.store.ListBindings(ctx.Context(), nil)
	if err != nil {
		return nil, mapError(err)
	}
	if len(bindings) == 0 {
		return nil, forge.BadRequest("no bindings declared")
	}
	set, err := schema.NewSet(bindings)
	if err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	// Per-resource failures ride inside the result; the run itself
	// succeeded and may simply be retried.
	result, err := a.reconciler.Apply(ctx.Context(), set)
	if result == nil {
		return nil, mapError(err)
	}

	if a.eng.Plugins() != nil {
		a.eng.Plugins().EmitReconciled(ctx.Context(), result)
	}

	resp := toReconcileResponse(result)
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) installedPolicies(ctx forge.Context, req *InstalledPoliciesRequest) (*InstalledPoliciesResponse, error) {
	if err := requireService(ctx); err != nil {
		return nil, err
	}
	if req.Resource == "" {
		return nil, forge.BadRequest("resource is required")
	}

	names, err := a.store.InstalledPolicies(ctx.Context(), req.Resource)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &InstalledPoliciesResponse{Resource: req.Resource, Policies: names}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func toReconcileResponse(r *reconcile.Result) *ReconcileResponse {
	resp := &ReconcileResponse{
		RunID:      r.RunID.String(),
		Converged:  r.Converged(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, out := range r.Outcomes {
		resp.Outcomes = append(resp.Outcomes, OutcomeResponse{
			Resource: out.Resource,
			Policy:   out.Policy,
			Retired:  out.Retired,
			Error:    out.Error,
		})
	}
	return resp
}
