package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/imagebulk/internal/app/events"
	"github.com/R3E-Network/imagebulk/internal/app/httpapi"
	"github.com/R3E-Network/imagebulk/internal/app/services/accounts"
	"github.com/R3E-Network/imagebulk/internal/app/services/archive"
	"github.com/R3E-Network/imagebulk/internal/app/services/auth"
	"github.com/R3E-Network/imagebulk/internal/app/services/contact"
	"github.com/R3E-Network/imagebulk/internal/app/services/fulfillment"
	"github.com/R3E-Network/imagebulk/internal/app/services/imagesource"
	"github.com/R3E-Network/imagebulk/internal/app/services/ledger"
	"github.com/R3E-Network/imagebulk/internal/app/services/mailer"
	"github.com/R3E-Network/imagebulk/internal/app/services/payments"
	"github.com/R3E-Network/imagebulk/internal/app/services/sweeper"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
	"github.com/R3E-Network/imagebulk/internal/app/storage/memory"
	"github.com/R3E-Network/imagebulk/internal/app/system"
	"github.com/R3E-Network/imagebulk/internal/config"
	"github.com/R3E-Network/imagebulk/internal/middleware"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts  storage.AccountStore
	Downloads storage.DownloadStore
	Payments  storage.PaymentStore
	Codes     storage.VerificationStore
	Feedback  storage.FeedbackStore
}

// Dependencies overrides the upstream clients built from configuration.
// Tests use it to swap in fakes; nil fields are built from Config.
type Dependencies struct {
	Provider imagesource.Provider
	Gateway  payments.Gateway
	Mailer   mailer.Mailer
	Events   events.Publisher
	// Database is pinged by the health endpoint when set.
	Database httpapi.Pinger
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Accounts    *accounts.Service
	Ledger      *ledger.Service
	Fulfillment *fulfillment.Service
	Payments    *payments.Service
	Contact     *contact.Service
	Tokens      *auth.Tokens
	Sweeper     *sweeper.Sweeper
	Handler     http.Handler
}

// New builds a fully initialised application from cfg.
func New(cfg *config.Config, stores Stores, deps Dependencies, version string, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Downloads == nil {
		stores.Downloads = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Codes == nil {
		stores.Codes = mem
	}
	if stores.Feedback == nil {
		stores.Feedback = mem
	}

	for _, dir := range []string{cfg.Archive.OutputDir, cfg.Provider.TempDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// Validate only lets this through in development.
		secret = uuid.NewString()
		log.Warn("JWT_SECRET not set; using an ephemeral secret, sessions end on restart")
	}
	tokens, err := auth.NewTokens(secret, cfg.Auth.JWTExpiry)
	if err != nil {
		return nil, fmt.Errorf("configure tokens: %w", err)
	}

	if deps.Mailer == nil {
		deps.Mailer = newMailer(cfg.Mail, log)
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	if deps.Provider == nil {
		deps.Provider = imagesource.NewPexels(imagesource.Config{
			BaseURL:       cfg.Provider.BaseURL,
			APIKey:        cfg.Provider.APIKey,
			SearchTimeout: cfg.Provider.SearchTimeout,
			FetchTimeout:  cfg.Provider.FetchTimeout,
			Concurrency:   cfg.Provider.Concurrency,
			TempDir:       cfg.Provider.TempDir,
		}, log.Named("pexels"))
		if cfg.Provider.APIKey == "" {
			log.Warn("PEXELS_API_KEY not set; downloads will fail with UPSTREAM_UNAVAILABLE")
		}
	}
	if deps.Gateway == nil {
		deps.Gateway = payments.NewRazorpay(cfg.Payments.BaseURL, cfg.Payments.KeyID, cfg.Payments.KeySecret, log.Named("razorpay"))
		if cfg.Payments.KeyID == "" || cfg.Payments.KeySecret == "" {
			log.Warn("Razorpay credentials not set; payments disabled")
		}
	}

	plans := cfg.Plans
	if len(plans.Plans) == 0 {
		plans = *config.DefaultPlansConfig()
	}
	if cfg.Payments.Currency != "" {
		plans.Currency = cfg.Payments.Currency
	}

	ledgerService := ledger.New(stores.Accounts, stores.Downloads, log.Named("ledger"))
	accountService := accounts.New(stores.Accounts, stores.Codes, tokens, deps.Mailer, accounts.Config{
		StartingCredits: cfg.Auth.StartingCredits,
		BcryptCost:      cfg.Auth.BcryptCost,
		CodeTTL:         cfg.Auth.VerificationTTL,
	}, log.Named("accounts"))
	fulfillmentService := fulfillment.New(deps.Provider, archive.NewBuilder(cfg.Archive.OutputDir, log.Named("archive")),
		ledgerService, deps.Events, log.Named("fulfillment"))
	paymentService := payments.New(stores.Accounts, stores.Payments, ledgerService, deps.Gateway, &plans,
		cfg.Payments.KeySecret, deps.Events, log.Named("payments"))
	contactService := contact.New(stores.Feedback, deps.Mailer, cfg.Mail.OwnerEmail, log.Named("contact"))

	var purger sweeper.CodePurger
	if p, ok := stores.Codes.(sweeper.CodePurger); ok {
		purger = p
	}
	sweep, err := sweeper.New(sweeper.Config{
		Dirs:      []string{cfg.Archive.OutputDir, cfg.Provider.TempDir},
		Retention: cfg.Archive.Retention,
		Schedule:  cfg.Archive.SweepSchedule,
	}, purger, log.Named("sweeper"))
	if err != nil {
		return nil, err
	}

	limiters := httpapi.NewRateLimiters(cfg.RateLimit, log.Named("http"))
	handler := httpapi.NewRouter(httpapi.Options{
		Identity:       accountService,
		Downloads:      fulfillmentService,
		Payments:       paymentService,
		Contact:        contactService,
		Tokens:         tokens,
		AllowedOrigins: cfg.Server.AllowedOrigins(),
		RateLimit:      cfg.RateLimit,
		Limiters:       limiters,
		ArchiveDir:     cfg.Archive.OutputDir,
		Database:       deps.Database,
		Version:        version,
		Started:        time.Now(),
	}, log.Named("http"))

	manager := system.NewManager(log.Named("system"))
	janitor := middleware.NewLimiterJanitor(0, limiters.All()...)
	for _, svc := range []system.Service{sweep, janitor, newHTTPServer(cfg.Server, handler, log.Named("http"))} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Accounts:    accountService,
		Ledger:      ledgerService,
		Fulfillment: fulfillmentService,
		Payments:    paymentService,
		Contact:     contactService,
		Tokens:      tokens,
		Sweeper:     sweep,
		Handler:     handler,
	}, nil
}

func newMailer(cfg config.MailConfig, log *logger.Logger) mailer.Mailer {
	if cfg.APIKey == "" {
		log.Warn("BREVO_API_KEY not set; outgoing mail is logged and dropped")
		return mailer.NewNoop(log.Named("mailer"))
	}
	m, err := mailer.NewBrevo(cfg.BaseURL, cfg.APIKey, mailer.Sender{Email: cfg.SenderEmail, Name: cfg.SenderName}, log.Named("mailer"))
	if err != nil {
		log.WithError(err).Warn("configure brevo mailer; falling back to no-op")
		return mailer.NewNoop(log.Named("mailer"))
	}
	return m
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
