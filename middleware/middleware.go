// Package middleware provides HTTP authorization middleware for Rowguard.
package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/claims"
)

// Principal resolves the caller's bearer token into a principal and
// stores it on the request context. It wraps a plain http.Handler so it
// can sit outside the Forge router, where the raw request is still
// visible. Handlers downstream read the result with rowguard.PrincipalFrom.
func Principal(res *claims.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := res.ResolveRequest(r)
			next.ServeHTTP(w, r.WithContext(rowguard.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRow gates a route carrying an :id path parameter on row
// visibility. The guard fetches the row and evaluates ownership; rows the
// caller cannot see answer 404 exactly like rows that do not exist, so
// the gate never confirms that a foreign row is there.
func RequireRow(g *rowguard.Guard, resource string) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			p := rowguard.PrincipalFrom(ctx.Context())
			key := ctx.Param("id")

			_, err := g.Select(ctx.Context(), p, resource, key)
			if err != nil {
				if errors.Is(err, rowguard.ErrRowNotFound) {
					return errorResponse(ctx, http.StatusNotFound, "not found")
				}
				return errorResponse(ctx, http.StatusBadRequest, err.Error())
			}
			return next(ctx)
		}
	}
}

// RequireService allows only callers holding the service role.
func RequireService() forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			if !rowguard.PrincipalFrom(ctx.Context()).IsService() {
				return errorResponse(ctx, http.StatusForbidden, "service role required")
			}
			return next(ctx)
		}
	}
}

// RequireAuthenticated rejects anonymous callers before the handler runs.
func RequireAuthenticated() forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			if rowguard.PrincipalFrom(ctx.Context()).Role == rowguard.RoleAnonymous {
				return errorResponse(ctx, http.StatusUnauthorized, "authentication required")
			}
			return next(ctx)
		}
	}
}

func errorResponse(ctx forge.Context, status int, msg string) error {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.Response().WriteHeader(status)
	return json.NewEncoder(ctx.Response()).Encode(map[string]string{"error": msg})
}
