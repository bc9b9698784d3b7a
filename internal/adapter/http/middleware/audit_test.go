package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"custody-ledger/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func auditRouter(buf *bytes.Buffer, status int) *gin.Engine {
	r := gin.New()
	admin := r.Group("/api/v1/admin", func(c *gin.Context) {
		c.Set(CtxIdentity, domain.Identity{UserID: uuid.MustParse("5d1f7e0c-0000-4000-8000-000000000001"), Roles: []string{"manager"}})
	}, AdminAudit(zerolog.New(buf)))
	admin.POST("/withdrawals/:id/approve", func(c *gin.Context) { c.Status(status) })
	admin.GET("/withdrawals/:id", func(c *gin.Context) { c.Status(status) })
	return r
}

func TestAdminAudit_LogsSuccessfulDecision(t *testing.T) {
	var buf bytes.Buffer
	r := auditRouter(&buf, http.StatusOK)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/withdrawals/w-1/approve", nil))

	out := buf.String()
	assert.Contains(t, out, `"audit_action":"withdrawal.approve"`)
	assert.Contains(t, out, `"resource_id":"w-1"`)
	assert.Contains(t, out, `"actor_id":"5d1f7e0c-0000-4000-8000-000000000001"`)
}

func TestAdminAudit_SkipsFailuresAndReads(t *testing.T) {
	var buf bytes.Buffer
	r := auditRouter(&buf, http.StatusConflict)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/admin/withdrawals/w-1/approve", nil))
	assert.Empty(t, buf.String())

	r = auditRouter(&buf, http.StatusOK)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/admin/withdrawals/w-1", nil))
	assert.Empty(t, buf.String())
}

func TestMapPathToAction(t *testing.T) {
	action, resource := mapPathToAction("/api/v1/admin/withdrawals/:id/payout", "POST")
	assert.Equal(t, "withdrawal.payout", action)
	assert.Equal(t, "withdrawal", resource)

	action, _ = mapPathToAction("/api/v1/withdrawals", "POST")
	assert.Empty(t, action)
}
