package receipts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ListHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	c, r := newPair(t)
	_, _ = r.meter.RecordSent(chanX, c.key(), 100)
	for _, n := range []uint64{40, 100} {
		_, err := r.engine.Verify(ctx, c.sign(t, Receipt{ChannelID: chanX, Payer: c.key(), Payee: r.key(), Downloaded: n}))
		require.NoError(t, err)
	}

	router := gin.New()
	NewHandler(r.engine).RegisterRoutes(router.Group("/v1"))

	req := httptest.NewRequest(http.MethodGet,
		"/v1/channels/"+chanX.String()+"/receipts?payer="+c.key().String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Receipts []Record `json:"receipts"`
		Count    int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, uint64(100), body.Receipts[0].Downloaded)
	assert.Equal(t, c.key(), body.Receipts[0].Payer)
}

func TestHandler_BadParams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, r := newPair(t)
	router := gin.New()
	NewHandler(r.engine).RegisterRoutes(router.Group("/v1"))

	for _, path := range []string{
		"/v1/channels/nothex/receipts",
		"/v1/channels/" + chanX.String() + "/receipts?payer=0x1234",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}
