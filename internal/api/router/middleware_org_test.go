package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/triage-engine/internal/tenancy"
)

func orgEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org, _ := tenancy.OrgIDFromContext(r.Context())
		w.Header().Set("X-Seen-Org", org)
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestRequireOrgID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	req.Header.Set(orgHeader, " org-abc ")
	rr := httptest.NewRecorder()
	requireOrgID(orgEcho()).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "org-abc", rr.Header().Get("X-Seen-Org"))

	rr = httptest.NewRecorder()
	requireOrgID(orgEcho()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/turns", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScopeAdminOrg(t *testing.T) {
	tests := []struct {
		name     string
		claimed  string
		header   string
		wantCode int
		wantOrg  string
	}{
		{"cross-org admin without header", "", "", http.StatusTeapot, ""},
		{"cross-org admin narrowed by header", "", "org-2", http.StatusTeapot, "org-2"},
		{"scoped token keeps its org", "org-1", "", http.StatusTeapot, "org-1"},
		{"scoped token matching header", "org-1", "org-1", http.StatusTeapot, "org-1"},
		{"scoped token other org", "org-1", "org-2", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/crisis/alerts", nil)
			if tt.claimed != "" {
				req = req.WithContext(tenancy.WithOrgID(req.Context(), tt.claimed))
			}
			if tt.header != "" {
				req.Header.Set(orgHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			scopeAdminOrg(orgEcho()).ServeHTTP(rr, req)
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantOrg, rr.Header().Get("X-Seen-Org"))
		})
	}
}
