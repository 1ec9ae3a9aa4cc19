package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-relay/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(subject, clientID, role string, chain ...gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)

	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), subject, clientID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(200) })

	r := gin.New()
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveAs("ops", "", RoleAdmin, RequireAnyRole(RoleClient)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_ClientDeniedAdminRoute(t *testing.T) {
	if code := serveAs("loc-1", "loc-1", RoleClient, RequireAnyRole(RoleAdmin)); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireTenant(t *testing.T) {
	if code := serveAs("loc-1", "", RoleClient, RequireTenant(), RequireAnyRole(RoleClient)); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := serveAs("loc-1", "loc-1", RoleClient, RequireTenant(), RequireAnyRole(RoleClient)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}
