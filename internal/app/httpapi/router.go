// Package httpapi exposes the imagebulk services over a JSON REST API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/R3E-Network/imagebulk/internal/app/metrics"
	"github.com/R3E-Network/imagebulk/internal/config"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/internal/httputil"
	"github.com/R3E-Network/imagebulk/internal/middleware"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// Options configures the router.
type Options struct {
	Identity  Identity
	Downloads Downloads
	Payments  Payments
	Contact   Contact
	Tokens    middleware.TokenParser

	AllowedOrigins []string
	RateLimit      config.RateLimitConfig
	// Limiters overrides the limiters built from RateLimit, so the caller
	// can sweep their idle clients.
	Limiters *RateLimiters
	ArchiveDir     string
	Database       Pinger
	Version        string
	Started        time.Time
}

// RateLimiters holds the per-route-group request limiters.
type RateLimiters struct {
	API      *middleware.RateLimiter
	Auth     *middleware.RateLimiter
	Download *middleware.RateLimiter
}

// NewRateLimiters builds the api, auth and download limiters from cfg.
func NewRateLimiters(cfg config.RateLimitConfig, log *logger.Logger) *RateLimiters {
	return &RateLimiters{
		API:      middleware.NewRateLimiter("api", cfg.APIRequests, cfg.APIWindow, log),
		Auth:     middleware.NewRateLimiter("auth", cfg.AuthRequests, cfg.AuthWindow, log),
		Download: middleware.NewRateLimiter("download", cfg.DownloadRequests, cfg.DownloadWindow, log),
	}
}

// All returns every limiter.
func (l *RateLimiters) All() []*middleware.RateLimiter {
	return []*middleware.RateLimiter{l.API, l.Auth, l.Download}
}

// NewRouter wires routes and the middleware chain.
func NewRouter(opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	h := &handler{
		identity:  opts.Identity,
		downloads: opts.Downloads,
		payments:  opts.Payments,
		contact:   opts.Contact,
		log:       log,
	}

	authn := middleware.NewAuthMiddleware(opts.Tokens, log.Named("auth"))
	limits := opts.Limiters
	if limits == nil {
		limits = NewRateLimiters(opts.RateLimit, log)
	}
	apiLimit, authLimit, downloadLimit := limits.API, limits.Auth, limits.Download

	r := chi.NewRouter()
	r.Use(middleware.NewTracingMiddleware(log).Handler)
	r.Use(middleware.Recover(log))
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler)

	r.Method(http.MethodGet, "/health", &healthHandler{
		started:    opts.Started,
		version:    opts.Version,
		archiveDir: opts.ArchiveDir,
		db:         opts.Database,
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(apiLimit.Handler)

		r.Route("/auth", func(r chi.Router) {
			r.With(authLimit.Handler).Post("/register", h.register)
			r.With(authLimit.Handler).Post("/verify-email", h.verifyEmail)
			r.With(authLimit.Handler).Post("/resend-otp", h.resendCode)
			r.With(authLimit.Handler).Post("/login", h.login)
			r.With(authn.Handler).Get("/me", h.me)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Use(authn.Handler)
			r.With(downloadLimit.Handler).Post("/", h.createDownload)
			r.Get("/history", h.downloadHistory)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Use(authn.Handler)
			r.Post("/razorpay/create-order", h.createOrder)
			r.Post("/razorpay/verify", h.verifyPayment)
			r.Get("/transactions", h.listTransactions)
		})

		r.Post("/contact", h.submitContact)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorResponse(w, apperrors.NotFound("route", ""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
			"error": httputil.ErrorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"},
		})
	})

	return r
}
