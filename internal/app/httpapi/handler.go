package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/domain/feedback"
	"github.com/R3E-Network/imagebulk/internal/app/domain/payment"
	"github.com/R3E-Network/imagebulk/internal/app/services/accounts"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/internal/httputil"
	"github.com/R3E-Network/imagebulk/internal/middleware"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// Identity is the registration and login surface.
type Identity interface {
	Register(ctx context.Context, email, password string) (account.Profile, error)
	VerifyEmail(ctx context.Context, email, code string) (accounts.Session, error)
	ResendCode(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (accounts.Session, error)
	Me(ctx context.Context, accountID string) (account.Profile, error)
}

// Downloads fulfils archive requests and lists history.
type Downloads interface {
	Fulfill(ctx context.Context, accountID, keyword string, count int) (download.Deliverable, error)
	History(ctx context.Context, accountID string, limit int) ([]download.Record, error)
}

// Payments opens and reconciles gateway orders.
type Payments interface {
	CreatePaymentOrder(ctx context.Context, accountID, plan string) (payment.Order, error)
	VerifyPayment(ctx context.Context, accountID, orderID, paymentID, signature string) (payment.Receipt, error)
	ListTransactions(ctx context.Context, accountID string) ([]payment.Transaction, error)
}

// Contact accepts feedback.
type Contact interface {
	Submit(ctx context.Context, name, email, message string) (feedback.Feedback, error)
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	identity  Identity
	downloads Downloads
	payments  Payments
	contact   Contact
	log       *logger.Logger
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httputil.WriteErrorResponse(w, err)
	entry := h.log.ForContext(r.Context()).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		return
	}
	entry.Debug("request rejected")
}

// Auth ------------------------------------------------------------------------

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

func (c *credentialsRequest) normalize() { c.Email = account.NormalizeEmail(c.Email) }

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (c *loginRequest) normalize() { c.Email = account.NormalizeEmail(c.Email) }

type verifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

func (v *verifyEmailRequest) normalize() {
	v.Email = account.NormalizeEmail(v.Email)
	v.Code = strings.TrimSpace(v.Code)
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (e *emailRequest) normalize() { e.Email = account.NormalizeEmail(e.Email) }

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	profile, err := h.identity.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Registration successful. Check your email for the verification code.",
		"user":    profile,
	})
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.identity.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) resendCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.identity.ResendCode(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Verification code resent."})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.identity.Me(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": profile})
}

// Downloads -------------------------------------------------------------------

type downloadRequest struct {
	Keyword string `json:"keyword" validate:"required,min=1,max=50"`
	Count   int    `json:"count" validate:"required,min=1,max=100"`
}

func (d *downloadRequest) normalize() { d.Keyword = strings.TrimSpace(d.Keyword) }

func (h *handler) createDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	accountID := middleware.GetUserID(r.Context())
	deliverable, err := h.downloads.Fulfill(r.Context(), accountID, req.Keyword, req.Count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// The account is billed at this point; the archive goes whether or not
	// the transfer completes.
	defer os.Remove(deliverable.Path)

	f, err := os.Open(deliverable.Path)
	if err != nil {
		h.fail(w, r, apperrors.Internal("open archive", err))
		return
	}
	defer f.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", "application/zip")
	hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", deliverable.Filename))
	hdr.Set("X-Image-Count", strconv.Itoa(deliverable.ImageCount))
	hdr.Set("X-Credits-Charged", strconv.FormatInt(deliverable.Charged, 10))
	hdr.Set("X-Credits-Remaining", strconv.FormatInt(deliverable.Balance, 10))
	if info, err := f.Stat(); err == nil {
		hdr.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		h.log.ForContext(r.Context()).WithError(err).WithField("archive", deliverable.Filename).
			Warn("archive transfer interrupted after billing")
	}
}

func (h *handler) downloadHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.fail(w, r, apperrors.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := h.downloads.History(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []download.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"history": records})
}

// Payments --------------------------------------------------------------------

type createOrderRequest struct {
	Plan string `json:"plan" validate:"required"`
}

type verifyPaymentRequest struct {
	OrderID   string `json:"razorpayOrderId" validate:"required"`
	PaymentID string `json:"razorpayPaymentId" validate:"required"`
	Signature string `json:"razorpaySignature" validate:"required"`
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.payments.CreatePaymentOrder(r.Context(), middleware.GetUserID(r.Context()), req.Plan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (h *handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.payments.VerifyPayment(r.Context(), middleware.GetUserID(r.Context()), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Payment verified successfully",
		"orderId":      receipt.OrderID,
		"creditsAdded": receipt.CreditsAdded,
		"totalCredits": receipt.TotalCredits,
	})
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.payments.ListTransactions(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if txs == nil {
		txs = []payment.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// Contact ---------------------------------------------------------------------

type contactRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"required,max=5000"`
}

func (c *contactRequest) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Message = strings.TrimSpace(c.Message)
}

func (h *handler) submitContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.contact.Submit(r.Context(), req.Name, req.Email, req.Message); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"message": "Feedback received. Thank you!"})
}
