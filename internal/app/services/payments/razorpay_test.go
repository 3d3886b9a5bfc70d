package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

func TestRazorpay_CreateOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_secret", pass)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 2900, body["amount"])
		assert.Equal(t, "INR", body["currency"])
		receipt, _ := body["receipt"].(string)
		assert.True(t, strings.HasPrefix(receipt, "receipt_"))
		assert.LessOrEqual(t, len(receipt), 40)

		w.Write([]byte(`{"id":"order_abc","amount":2900,"currency":"INR","receipt":"` + receipt + `","status":"created"}`))
	}))
	defer server.Close()

	gw := NewRazorpay(server.URL, "rzp_test_key", "rzp_secret", logger.NewNop())
	order, err := gw.CreateOrder(context.Background(), 29, "INR")
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.ID)
	assert.Equal(t, int64(2900), order.Amount)
	assert.Equal(t, "rzp_test_key", gw.KeyID())
}

func TestRazorpay_Errors(t *testing.T) {
	unconfigured := NewRazorpay("", "", "", logger.NewNop())
	_, err := unconfigured.CreateOrder(context.Background(), 29, "INR")
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR"}}`))
	}))
	defer server.Close()

	gw := NewRazorpay(server.URL, "k", "s", logger.NewNop())
	_, err = gw.CreateOrder(context.Background(), 29, "INR")
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}
