// Package payments opens gateway orders for credit plans and reconciles
// signed payment confirmations into ledger credits.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/payment"
	"github.com/R3E-Network/imagebulk/internal/app/events"
	"github.com/R3E-Network/imagebulk/internal/app/metrics"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
	"github.com/R3E-Network/imagebulk/internal/config"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// Crediter grants credits to an account.
type Crediter interface {
	Credit(ctx context.Context, accountID string, amount int64) (account.Account, error)
}

// Service reconciles gateway payments.
type Service struct {
	accounts storage.AccountStore
	payments storage.PaymentStore
	ledger   Crediter
	gateway  Gateway
	plans    *config.PlansConfig
	secret   []byte
	events   events.Publisher
	log      *logger.Logger
}

// New constructs a payments service. secret is the gateway key secret used
// to sign payment confirmations.
func New(accounts storage.AccountStore, payments storage.PaymentStore, ledger Crediter, gateway Gateway, plans *config.PlansConfig, secret string, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if plans == nil {
		plans = config.DefaultPlansConfig()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		accounts: accounts,
		payments: payments,
		ledger:   ledger,
		gateway:  gateway,
		plans:    plans,
		secret:   []byte(strings.TrimSpace(secret)),
		events:   publisher,
		log:      log,
	}
}

// CreatePaymentOrder opens a gateway order for a purchasable plan and records
// a pending transaction.
func (s *Service) CreatePaymentOrder(ctx context.Context, accountID, plan string) (payment.Order, error) {
	name, settings, ok := s.plans.Lookup(plan)
	if !ok || strings.EqualFold(name, string(account.PlanFree)) {
		return payment.Order{}, apperrors.Validation("invalid plan")
	}

	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return payment.Order{}, apperrors.NotFound("account", accountID)
		}
		return payment.Order{}, fmt.Errorf("load account: %w", err)
	}

	currency := s.plans.Currency
	if currency == "" {
		currency = "INR"
	}
	order, err := s.gateway.CreateOrder(ctx, settings.Price, currency)
	if err != nil {
		s.log.WithError(err).WithField("account_id", accountID).Warn("create gateway order failed")
		return payment.Order{}, err
	}

	_, err = s.payments.CreateTransaction(ctx, payment.Transaction{
		AccountID:    accountID,
		OrderID:      order.ID,
		Plan:         name,
		Amount:       settings.Price,
		Currency:     currency,
		CreditsAdded: settings.Credits,
		Status:       payment.StatusPending,
	})
	if err != nil {
		return payment.Order{}, fmt.Errorf("record transaction: %w", err)
	}

	s.log.WithField("account_id", accountID).WithField("order_id", order.ID).WithField("plan", name).Info("payment order created")
	return payment.Order{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		KeyID:    s.gateway.KeyID(),
	}, nil
}

// VerifyPayment checks the gateway signature over "orderId|paymentId" and
// credits the order's plan exactly once. When accountID is not empty the
// order must belong to that account.
func (s *Service) VerifyPayment(ctx context.Context, accountID, orderID, paymentID, signature string) (payment.Receipt, error) {
	orderID = strings.TrimSpace(orderID)
	paymentID = strings.TrimSpace(paymentID)
	signature = strings.TrimSpace(signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return payment.Receipt{}, apperrors.Validation("order id, payment id and signature are required")
	}
	if len(s.secret) == 0 {
		return payment.Receipt{}, apperrors.UpstreamUnavailable("payment gateway not configured", nil)
	}

	log := s.log.ForContext(ctx).WithField("order_id", orderID)

	if !s.validSignature(orderID, paymentID, signature) {
		metrics.RecordPaymentVerification("invalid_signature")
		log.Warn("payment signature mismatch")
		return payment.Receipt{}, apperrors.InvalidSignature()
	}

	tx, err := s.payments.GetTransactionByOrderID(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && accountID != "" && tx.AccountID != accountID) {
		return payment.Receipt{}, apperrors.NotFound("transaction", orderID)
	}
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("load transaction: %w", err)
	}
	if tx.Status == payment.StatusSuccess {
		metrics.RecordPaymentVerification("already_processed")
		return payment.Receipt{}, apperrors.AlreadyProcessed(orderID)
	}

	// Only the call that flips pending to success grants credits.
	commitCtx := context.WithoutCancel(ctx)
	tx, moved, err := s.payments.CompleteTransaction(commitCtx, orderID, paymentID)
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("complete transaction: %w", err)
	}
	if !moved {
		metrics.RecordPaymentVerification("already_processed")
		return payment.Receipt{}, apperrors.AlreadyProcessed(orderID)
	}

	acct, err := s.ledger.Credit(commitCtx, tx.AccountID, tx.CreditsAdded)
	if err != nil {
		log.WithError(err).WithField("account_id", tx.AccountID).WithField("credits", tx.CreditsAdded).
			Error("payment settled but crediting the account failed")
		return payment.Receipt{}, apperrors.Internal("failed to credit account", err)
	}

	if plan, ok := account.ParsePlan(tx.Plan); ok && acct.Plan != plan {
		if _, err := s.accounts.UpdatePlan(commitCtx, tx.AccountID, plan); err != nil {
			log.WithError(err).Warn("plan upgrade failed")
		}
	}

	metrics.RecordPaymentVerification("success")
	log.WithField("account_id", tx.AccountID).WithField("credits", tx.CreditsAdded).Info("payment verified")

	receipt := payment.Receipt{OrderID: orderID, CreditsAdded: tx.CreditsAdded, TotalCredits: acct.Credits}
	s.events.Publish(commitCtx, events.TopicPaymentVerified, events.PaymentVerified{
		AccountID:    tx.AccountID,
		OrderID:      orderID,
		PaymentID:    paymentID,
		Plan:         tx.Plan,
		CreditsAdded: tx.CreditsAdded,
		TotalCredits: acct.Credits,
		OccurredAt:   time.Now().UTC(),
	})
	return receipt, nil
}

// ListTransactions returns an account's payment history, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]payment.Transaction, error) {
	return s.payments.ListTransactions(ctx, accountID)
}

func (s *Service) validSignature(orderID, paymentID, signature string) bool {
	expected := Sign(s.secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// Sign computes the hex HMAC-SHA256 the gateway attaches to a payment.
func Sign(secret []byte, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
