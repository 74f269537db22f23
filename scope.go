package rowguard

import (
	"context"

	"github.com/xraph/forge"
)

// PrincipalFrom resolves the acting principal for a request.
// Priority: explicit principal (WithPrincipal) → Forge user (Authsome) →
// anonymous. The Forge fallback yields an authenticated principal because
// Forge only populates the user id after verifying the session.
func PrincipalFrom(ctx context.Context) Principal {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p
	}
	if userID := forge.UserIDFromContext(ctx); userID != "" {
		return Principal{ID: userID, Role: RoleAuthenticated}
	}
	return Anonymous()
}
