package web

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/JonMunkholm/rosterimport/internal/web/middleware"
)

// caller is the authenticated tenant scope of a request.
type caller struct {
	TenantID uuid.UUID
	Actor    string
}

// callerFrom reads the claims stored by middleware.TenantScope.
func callerFrom(r *http.Request) (caller, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return caller{}, fmt.Errorf("%w: request is not tenant scoped", core.ErrUnauthorized)
	}
	tenantID, err := claims.Tenant()
	if err != nil {
		return caller{}, err
	}
	return caller{TenantID: tenantID, Actor: claims.Subject}, nil
}
