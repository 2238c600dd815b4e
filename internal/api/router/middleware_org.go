package router

import (
	"net/http"
	"strings"

	"github.com/wolfman30/triage-engine/internal/tenancy"
)

const orgHeader = "X-Org-Id"

// requireOrgID enforces the tenancy header on public API requests.
func requireOrgID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get(orgHeader))
		if orgID == "" {
			http.Error(w, "missing X-Org-Id", http.StatusBadRequest)
			return
		}
		ctx := tenancy.WithOrgID(r.Context(), orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// scopeAdminOrg narrows an unscoped admin token to the X-Org-Id header when
// one is sent. A token already bound to an org cannot be pointed elsewhere.
func scopeAdminOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := tenancy.Narrow(r.Context(), r.Header.Get(orgHeader))
		if err != nil {
			http.Error(w, "org not permitted for this token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
