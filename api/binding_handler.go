package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/schema"
)

func (a *API) registerBindingRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("bindings"))

	if err := g.POST("/bindings", a.createBinding,
		forge.WithSummary("Create binding"),
		forge.WithDescription("Declares the ownership binding for a resource type."),
		forge.WithOperationID("createBinding"),
		forge.WithRequestSchema(CreateBindingRequest{}),
		forge.WithCreatedResponse(&schema.Binding{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/bindings/:bindingId", a.getBinding,
		forge.WithSummary("Get binding"),
		forge.WithDescription("Returns details of a specific binding."),
		forge.WithOperationID("getBinding"),
		forge.WithResponseSchema(http.StatusOK, "Binding details", &schema.Binding{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.PUT("/bindings/:bindingId", a.updateBinding,
		forge.WithSummary("Update binding"),
		forge.WithDescription("Updates an existing binding. Changes take effect on the next reconciliation."),
		forge.WithOperationID("updateBinding"),
		forge.WithRequestSchema(UpdateBindingRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated binding", &schema.Binding{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.DELETE("/bindings/:bindingId", a.deleteBinding,
		forge.WithSummary("Delete binding"),
		forge.WithDescription("Deletes a binding. Installed policies remain until reconciled."),
		forge.WithOperationID("deleteBinding"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/bindings", a.listBindings,
		forge.WithSummary("List bindings"),
		forge.WithDescription("Lists bindings with optional filters."),
		forge.WithOperationID("listBindings"),
		forge.WithRequestSchema(ListBindingsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Binding list", ListResponse[*schema.Binding]{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) createBinding(ctx forge.Context, req *CreateBindingRequest) (*schema.Binding, error) {
	if err := requireService(ctx); err != nil {
		return nil, err
	}
	if req.Resource == "" {
		return nil, forge.BadRequest("resource is required")
	}

	now := time.Now()
	b := &schema.Binding{
		ID:             id.NewBindingID(),
		Resource:       req.Resource,
		Mode:           schema.Mode(req.Mode),
		KeyColumn:      req.KeyColumn,
		OwnerColumn:    req.OwnerColumn,
		ParentColumn:   req.ParentColumn,
		ParentResource: req.ParentResource,
		PolicyName:     req.PolicyName,
		Description:    req.Description,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if b.PolicyName == "" {
		b.PolicyName = req.Resource + "_owner"
	}
	if err := b.Validate(); err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	if err := a.store.CreateBinding(ctx.Context(), b); err != nil {
		return nil, mapError(err)
	}

	if a.eng.Plugins() != nil {
		a.eng.Plugins().EmitBindingCreated(ctx.Context(), b)
	}

	return b, ctx.JSON(http.StatusCreated, b)
}

func (a *API) getBinding(ctx forge.Context, _ *GetBindingRequest) (*schema.Binding, error) {
	bindID, err := id.ParseBindingID(ctx.Param("bindingId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid binding ID: %v", err))
	}

	b, err := a.store.GetBinding(ctx.Context(), bindID)
	if err != nil {
		return nil, mapError(err)
	}

	return b, ctx.JSON(http.StatusOK, b)
}

func (a *API) updateBinding(ctx forge.Context, req *UpdateBindingRequest) (*schema.Binding, error) {
	if err := requireService(ctx); err != nil {
		return nil, err
	}
	bindID, err := id.ParseBindingID(ctx.Param("bindingId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid binding ID: %v", err))
	}

	b, err := a.store.GetBinding(ctx.Context(), bindID)
	if err != nil {
		return nil, mapError(err)
	}

	if req.KeyColumn != "" {
		b.KeyColumn = req.KeyColumn
	}
	if req.OwnerColumn != "" {
		b.OwnerColumn = req.OwnerColumn
	}
	if req.ParentColumn != "" {
		b.ParentColumn = req.ParentColumn
	}
	if req.ParentResource != "" {
		b.ParentResource = req.ParentResource
	}
	if req.PolicyName != "" {
		b.PolicyName = req.PolicyName
	}
	if req.Description != "" {
		b.Description = req.Description
	}
	if req.Metadata != nil {
		b.Metadata = req.Metadata
	}
	b.UpdatedAt = time.Now()

	if err := b.Validate(); err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	if err := a.store.UpdateBinding(ctx.Context(), b); err != nil {
		return nil, mapError(err)
	}

	if a.eng.Plugins() != nil {
		a.eng.Plugins().EmitBindingUpdated(ctx.Context(), b)
	}

	return b, ctx.JSON(http.StatusOK, b)
}

func (a *API) deleteBinding(ctx forge.Context, _ *GetBindingRequest) (*struct{}, error) {
	if err := requireService(ctx); err != nil {
		return nil, err
	}
	bindID, err := id.ParseBindingID(ctx.Param("bindingId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid binding ID: %v", err))
	}

	if err := a.store.DeleteBinding(ctx.Context(), bindID); err != nil {
		return nil, mapError(err)
	}

	if a.eng.Plugins() != nil {
		a.eng.Plugins().EmitBindingDeleted(ctx.Context(), bindID)
	}

	return nil, ctx.NoContent(http.StatusNoContent)
}

func (a *API) listBindings(ctx forge.Context, req *ListBindingsRequest) (*ListResponse[*schema.Binding], error) {
	filter := &schema.ListFilter{
		Resource: req.Resource,
		Mode:     schema.Mode(req.Mode),
		Search:   req.Search,
		Limit:    defaultLimit(req.Limit),
		Offset:   req.Offset,
	}

	bindings, err := a.store.ListBindings(ctx.Context(), filter)
	if err != nil {
		return nil, mapError(err)
	}
	total, err := a.store.CountBindings(ctx.Context(), filter)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &ListResponse[*schema.Binding]{
		Items:  bindings,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}
