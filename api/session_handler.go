package api

import (
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/session"
)

func (a *API) registerSessionRoutes(router forge.Router) error {
	g := router.Group("/v1/sessions", forge.WithGroupTags("sessions"))

	if err := g.POST("/login", a.recordLogin,
		forge.WithSummary("Record login"),
		forge.WithDescription("Upserts the session for the caller's device: first login creates it, later logins refresh it."),
		forge.WithOperationID("recordLogin"),
		forge.WithRequestSchema(RecordLoginRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Session record", &session.Record{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("", a.listSessions,
		forge.WithSummary("List sessions"),
		forge.WithDescription("Lists the caller's device sessions, most recently seen first."),
		forge.WithOperationID("listSessions"),
		forge.WithRequestSchema(ListSessionsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Session list", []*session.Record{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/touch", a.touchSession,
		forge.WithSummary("Touch session"),
		forge.WithDescription("Stamps last-seen on the caller's device session."),
		forge.WithOperationID("touchSession"),
		forge.WithRequestSchema(TouchSessionRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Session record", &session.Record{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/revoke", a.revokeSessions,
		forge.WithSummary("Revoke sessions"),
		forge.WithDescription("Revokes the caller's sessions by scope: single device, all other devices, or all."),
		forge.WithOperationID("revokeSessions"),
		forge.WithRequestSchema(RevokeSessionsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Revocation count", RevokeSessionsResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.POST("/purge", a.purgeSessions,
		forge.WithSummary("Purge revoked sessions"),
		forge.WithDescription("Deletes sessions revoked longer ago than the retention window."),
		forge.WithOperationID("purgeSessions"),
		forge.WithRequestSchema(PurgeSessionsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Purge count", PurgeSessionsResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) recordLogin(ctx forge.Context, req *RecordLoginRequest) (*session.Record, error) {
	p, principalID, err := principalFor(ctx, req.PrincipalID)
	if err != nil {
		return nil, err
	}
	if principalID == "" {
		return nil, forge.BadRequest("principal_id is required")
	}
	if req.DeviceID == "" {
		return nil, forge.BadRequest("device_id is required")
	}

	rec := &session.Record{
		PrincipalID: principalID,
		DeviceID:    req.DeviceID,
		DeviceName:  req.DeviceName,
		Platform:    req.Platform,
		UserAgent:   req.UserAgent,
		IPAddress:   req.IPAddress,
		Metadata:    req.Metadata,
	}
	if req.AppVersion != "" || req.PushToken != "" {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any, 2)
		}
		if req.AppVersion != "" {
			rec.Metadata["app_version"] = req.AppVersion
		}
		if req.PushToken != "" {
			rec.Metadata["push_token"] = req.PushToken
		}
	}

	if err := a.enforceSession(ctx, p, rowguard.OpInsert, rowguard.Row(rec.OwnerRow())); err != nil {
		return nil, err
	}

	stored, err := a.ledger.RecordLogin(ctx.Context(), rec)
	if err != nil {
		return nil, mapError(err)
	}

	if a.eng.Plugins() != nil {
		a.eng.Plugins().EmitSessionRecorded(ctx.Context(), stored)
	}

	return stored, ctx.JSON(http.StatusOK, stored)
}

func (a *API) listSessions(ctx forge.Context, req *ListSessionsRequest) ([]*session.Record, error) {
	p, principalID, err := principalFor(ctx, req.PrincipalID)
	if err != nil {
		return nil, err
	}
	if principalID == "" {
		return nil, forge.BadRequest("principal_id is required")
	}

	if err := a.enforceSession(ctx, p, rowguard.OpSelect, rowguard.Row{"user_id": principalID}); err != nil {
		return nil, err
	}

	records, err := a.ledger.List(ctx.Context(), principalID, req.ActiveOnly)
	if err != nil {
		return nil, mapError(err)
	}

	return records, ctx.JSON(http.StatusOK, records)
}

func (a *API) touchSession(ctx forge.Context, req *TouchSessionRequest) (*session.Record, error) {
	p, principalID, err := principalFor(ctx, req.PrincipalID)
	if err != nil {
		return nil, err
	}
	if principalID == "" {
		return nil, forge.BadRequest("principal_id is required")
	}
	if req.DeviceID == "" {
		return nil, forge.BadRequest("device_id is required")
	}

	if err := a.enforceSession(ctx, p, rowguard.OpUpdate, rowguard.Row{"user_id": principalID, "device_id": req.DeviceID}); err != nil {
		return nil, err
	}

	rec, err := a.ledger.Touch(ctx.Context(), principalID, req.DeviceID)
	if err != nil {
		return nil, mapError(err)
	}

	return rec, ctx.JSON(http.StatusOK, rec)
}

func (a *API) revokeSessions(ctx forge.Context, req *RevokeSessionsRequest) (*RevokeSessionsResponse, error) {
	p, principalID, err := principalFor(ctx, req.PrincipalID)
	if err != nil {
		return nil, err
	}
	if principalID == "" {
		return nil, forge.BadRequest("principal_id is required")
	}
	scope := session.RevokeScope(req.Scope)
	if !scope.Valid() {
		return nil, forge.BadRequest("scope must be single, others, or all")
	}
	if scope != session.RevokeAll && req.DeviceID == "" {
		return nil, forge.BadRequest("device_id is required for this scope")
	}

	if err := a.enforceSession(ctx, p, rowguard.OpUpdate, rowguard.Row{"user_id": principalID}); err != nil {
		return nil, err
	}

	revoked, err := a.ledger.Revoke(ctx.Context(), principalID, req.DeviceID, scope)
	if err != nil {
		return nil, mapError(err)
	}

	if a.eng.Plugins() != nil {
		a.eng.Plugins().EmitSessionRevoked(ctx.Context(), principalID, scope, revoked)
	}

	resp := &RevokeSessionsResponse{Revoked: revoked}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) purgeSessions(ctx forge.Context, req *PurgeSessionsRequest) (*PurgeSessionsResponse, error) {
	if err := requireService(ctx); err != nil {
		return nil, err
	}
	if req.RetentionHours <= 0 {
		return nil, forge.BadRequest("retention_hours must be positive")
	}

	purged, err := a.ledger.Purge(ctx.Context(), time.Duration(req.RetentionHours)*time.Hour)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &PurgeSessionsResponse{Purged: purged}
	return resp, ctx.JSON(http.StatusOK, resp)
}

// enforceSession routes a ledger operation through the engine against the
// user_devices binding, so session access obeys the same ownership rules
// as any other guarded row.
func (a *API) enforceSession(ctx forge.Context, p rowguard.Principal, op rowguard.Operation, row rowguard.Row) error {
	err := a.eng.Enforce(ctx.Context(), &rowguard.CheckRequest{
		Principal: p,
		Resource:  session.Resource,
		Operation: op,
		Row:       row,
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}
