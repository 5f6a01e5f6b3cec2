package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/driveledger/internal/admission"
)

func TestHandler_Sessions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, replicatorConfig(), admission.Limits{})
	require.True(t, f.connect(t, admission.RoleClient).Admitted())

	router := gin.New()
	NewHandler(f.mgr).RegisterRoutes(router.Group("/v1"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []map[string]interface{} `json:"sessions"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "admitted", list.Sessions[0]["state"])
	assert.Equal(t, "limited", list.Sessions[0]["outcome"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+f.remote.PublicKey().String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+f.local.PublicKey().String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
