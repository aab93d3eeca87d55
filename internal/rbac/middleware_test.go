package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callcenter-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveWithRole(role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveWithRole(RoleAdmin, RoleOperator); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AllowedRolePasses(t *testing.T) {
	if code := serveWithRole(RoleOperator, RoleOperator, RoleViewer); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_DisallowedRoleForbidden(t *testing.T) {
	if code := serveWithRole(RoleViewer, RoleOperator); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_MissingRoleUnauthorized(t *testing.T) {
	if code := serveWithRole("", RoleOperator); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
