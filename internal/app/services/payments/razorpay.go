package payments

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/internal/httputil"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// GatewayOrder is an order opened with the payment gateway. Amount is in
// minor units.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway opens orders with the payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMajor int64, currency string) (GatewayOrder, error)
	KeyID() string
}

// Razorpay is the Razorpay Orders API client.
type Razorpay struct {
	client *httputil.Client
	keyID  string
	log    *logger.Logger
}

var _ Gateway = (*Razorpay)(nil)

// NewRazorpay constructs the client. Missing credentials are reported when an
// order is created.
func NewRazorpay(baseURL, keyID, keySecret string, log *logger.Logger) *Razorpay {
	if baseURL == "" {
		baseURL = "https://api.razorpay.com"
	}
	if log == nil {
		log = logger.NewDefault("razorpay")
	}
	keyID = strings.TrimSpace(keyID)
	keySecret = strings.TrimSpace(keySecret)

	var client *httputil.Client
	if keyID != "" && keySecret != "" {
		client = httputil.NewClient(httputil.ClientConfig{
			BaseURL:    baseURL,
			Timeout:    20 * time.Second,
			MaxRetries: -1,
			Decorate:   func(r *http.Request) { r.SetBasicAuth(keyID, keySecret) },
		})
	}
	return &Razorpay{client: client, keyID: keyID, log: log}
}

func (r *Razorpay) KeyID() string { return r.keyID }

func (r *Razorpay) CreateOrder(ctx context.Context, amountMajor int64, currency string) (GatewayOrder, error) {
	if r.client == nil {
		return GatewayOrder{}, apperrors.UpstreamUnavailable("payment gateway not configured", nil)
	}
	if amountMajor <= 0 {
		return GatewayOrder{}, apperrors.Validation("amount must be positive")
	}

	resp, err := r.client.Post(ctx, "/v1/orders", map[string]interface{}{
		"amount":   amountMajor * 100,
		"currency": currency,
		"receipt":  receipt(),
	})
	if err != nil {
		return GatewayOrder{}, apperrors.UpstreamUnavailable("payment gateway unreachable", err)
	}

	var order GatewayOrder
	if err := httputil.DecodeResponse(resp, &order); err != nil {
		return GatewayOrder{}, apperrors.UpstreamUnavailable("payment gateway rejected the order", err)
	}
	if order.ID == "" {
		return GatewayOrder{}, apperrors.UpstreamUnavailable("payment gateway returned no order id", nil)
	}
	r.log.WithField("order_id", order.ID).Debug("gateway order created")
	return order, nil
}

// receipt fits the gateway's 40 character limit.
func receipt() string {
	return "receipt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
