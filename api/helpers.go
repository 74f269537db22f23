package api

import (
	"errors"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/schema"
	"github.com/xraph/rowguard/session"
)

// mapError maps domain errors to Forge HTTP errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return forge.NotFound(err.Error())
	}
	if errors.Is(err, schema.ErrDuplicateBinding) || errors.Is(err, session.ErrDuplicateDevice) {
		return forge.BadRequest(err.Error())
	}
	if errors.Is(err, rowguard.ErrUnknownResource) || errors.Is(err, rowguard.ErrInvalidOperation) {
		return forge.BadRequest(err.Error())
	}
	if errors.Is(err, rowguard.ErrChainTooDeep) {
		return forge.BadRequest(err.Error())
	}
	if errors.Is(err, rowguard.ErrRowDenied) {
		return forge.Forbidden(err.Error())
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, schema.ErrBindingNotFound) ||
		errors.Is(err, session.ErrNotFound) ||
		errors.Is(err, rowguard.ErrRowNotFound)
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// requireService rejects callers that do not hold the service role.
func requireService(ctx forge.Context) error {
	if !rowguard.PrincipalFrom(ctx.Context()).IsService() {
		return forge.Forbidden("service role required")
	}
	return nil
}

// principalFor returns the caller's principal and the principal a session
// operation targets. Only the service role may act for another principal.
func principalFor(ctx forge.Context, override string) (rowguard.Principal, string, error) {
	p := rowguard.PrincipalFrom(ctx.Context())
	if override != "" && override != p.ID {
		if !p.IsService() {
			return p, "", forge.Forbidden("only the service role may act for another principal")
		}
		return p, override, nil
	}
	return p, p.ID, nil
}
