package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name      string
		userRoles []string
		required  []string
		wantPass  bool
	}{
		{"exact role", []string{RoleSecretary}, []string{RoleSecretary}, true},
		{"admin passes all", []string{RoleAdmin}, []string{RoleSecretary}, true},
		{"one of several", []string{"viewer", RoleSecretary}, []string{"billing", RoleSecretary}, true},
		{"missing role", []string{"viewer"}, []string{RoleSecretary}, false},
		{"no roles", nil, []string{RoleSecretary}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, tt.userRoles))
			c := e.NewContext(req, httptest.NewRecorder())

			called := false
			err := RequireRole(tt.required...)(func(c echo.Context) error {
				called = true
				return nil
			})(c)

			if called != tt.wantPass {
				t.Errorf("handler called = %v, want %v", called, tt.wantPass)
			}
			if !tt.wantPass {
				he, ok := err.(*echo.HTTPError)
				if !ok || he.Code != http.StatusForbidden {
					t.Errorf("error = %v, want 403", err)
				}
			}
		})
	}
}
