package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/":                                 "/",
		"/health":                           "/health",
		"/api/downloads":                    "/api/downloads",
		"/api/downloads/history":            "/api/downloads/history",
		"/api/payments/razorpay/verify":     "/api/payments/razorpay",
		"/api/payments/razorpay/verify/x/y": "/api/payments/razorpay",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestInstrumentHandler_CountsRequests(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/contact", "418"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contact", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/contact", "418"))
	assert.Equal(t, before+1, after)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(imagesRetrieved)
	RecordFulfillment("success", 7, 2*time.Second)
	assert.Equal(t, before+7, testutil.ToFloat64(imagesRetrieved))

	debits := testutil.ToFloat64(creditsMoved.WithLabelValues("debit"))
	RecordDebit(10)
	RecordDebit(0)
	assert.Equal(t, debits+10, testutil.ToFloat64(creditsMoved.WithLabelValues("debit")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "imagebulk_fulfillment_requests_total"))
}
