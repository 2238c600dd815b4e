// Package tenancy carries the organization a request is scoped to.
//
// Tenant API calls are always scoped. Admin calls are scoped by the token's
// org claim, or by a header when the token spans every org.
package tenancy

import (
	"context"
	"errors"
	"strings"
)

// ErrOrgMismatch is returned when a scoped request asks for another org.
var ErrOrgMismatch = errors.New("tenancy: org not permitted for this scope")

type ctxKey struct{}

// WithOrgID stores the org id in context. Blank ids leave the request unscoped.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(orgID))
}

// OrgIDFromContext extracts the org id if present.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	orgID, _ := ctx.Value(ctxKey{}).(string)
	return orgID, orgID != ""
}

// Narrow scopes an unscoped context to orgID. A context already scoped to a
// different org is rejected; an empty orgID is a no-op.
func Narrow(ctx context.Context, orgID string) (context.Context, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ctx, nil
	}
	if scoped, ok := OrgIDFromContext(ctx); ok {
		if scoped != orgID {
			return ctx, ErrOrgMismatch
		}
		return ctx, nil
	}
	return WithOrgID(ctx, orgID), nil
}

// Permits reports whether a record owned by orgID is visible. Unscoped
// contexts see every org.
func Permits(ctx context.Context, orgID string) bool {
	scoped, ok := OrgIDFromContext(ctx)
	return !ok || scoped == orgID
}
