package accounts

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/verification"
	"github.com/R3E-Network/imagebulk/internal/app/services/mailer"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(userID, email string) (string, error)
}

// Config tunes registration.
type Config struct {
	StartingCredits int64
	BcryptCost      int
	CodeTTL         time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartingCredits < 0 {
		c.StartingCredits = 0
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 10 * time.Minute
	}
	return c
}

// Session is returned by a successful login or verification.
type Session struct {
	Token string          `json:"token"`
	User  account.Profile `json:"user"`
}

// Service manages registration, email verification and login.
type Service struct {
	accounts storage.AccountStore
	codes    storage.VerificationStore
	tokens   TokenIssuer
	mail     mailer.Mailer
	cfg      Config
	log      *logger.Logger

	now     func() time.Time
	newCode func() (string, error)
}

// New constructs an accounts service.
func New(accounts storage.AccountStore, codes storage.VerificationStore, tokens TokenIssuer, mail mailer.Mailer, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	if mail == nil {
		mail = mailer.NewNoop(log)
	}
	return &Service{
		accounts: accounts,
		codes:    codes,
		tokens:   tokens,
		mail:     mail,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
		newCode:  randomCode,
	}
}

// Register creates an unverified account with the starting grant and mails a
// verification code.
func (s *Service) Register(ctx context.Context, email, password string) (account.Profile, error) {
	email = account.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return account.Profile{}, apperrors.Validation("a valid email is required")
	}
	if len(password) < 6 {
		return account.Profile{}, apperrors.Validation("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return account.Profile{}, fmt.Errorf("hash password: %w", err)
	}

	acct, err := s.accounts.CreateAccount(ctx, account.Account{
		Email:        email,
		PasswordHash: string(hash),
		Credits:      s.cfg.StartingCredits,
		Plan:         account.PlanFree,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return account.Profile{}, apperrors.Conflict("an account with this email already exists")
	}
	if err != nil {
		return account.Profile{}, fmt.Errorf("create account: %w", err)
	}

	s.log.WithField("account_id", acct.ID).Info("account registered")
	if err := s.issueCode(ctx, acct.Email); err != nil {
		return account.Profile{}, err
	}
	return acct.Profile(), nil
}

// VerifyEmail consumes a verification code and opens a session.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (Session, error) {
	acct, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, apperrors.NotFound("account", account.NormalizeEmail(email))
	}
	if err != nil {
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	if acct.Verified {
		return Session{}, apperrors.Conflict("email is already verified")
	}

	pending, err := s.codes.GetCode(ctx, acct.Email)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, apperrors.Validation("invalid or expired verification code")
	}
	if err != nil {
		return Session{}, fmt.Errorf("load verification code: %w", err)
	}
	if pending.Expired(s.now()) {
		return Session{}, apperrors.Validation("invalid or expired verification code")
	}
	if pending.Exhausted() {
		return Session{}, s.retireCode(ctx, acct)
	}
	if !codeMatches(pending.CodeHash, code) {
		attempts, err := s.codes.RecordFailedAttempt(ctx, acct.Email)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return Session{}, fmt.Errorf("record failed attempt: %w", err)
		}
		if attempts >= verification.MaxAttempts {
			return Session{}, s.retireCode(ctx, acct)
		}
		return Session{}, apperrors.Validation("invalid or expired verification code")
	}

	acct.Verified = true
	acct, err = s.accounts.UpdateAccount(ctx, acct)
	if err != nil {
		return Session{}, fmt.Errorf("mark verified: %w", err)
	}
	if err := s.codes.DeleteCode(ctx, acct.Email); err != nil {
		s.log.WithError(err).WithField("account_id", acct.ID).Warn("delete verification code failed")
	}

	s.log.WithField("account_id", acct.ID).Info("email verified")
	return s.session(acct)
}

// retireCode drops a code that absorbed too many wrong guesses.
func (s *Service) retireCode(ctx context.Context, acct account.Account) error {
	if err := s.codes.DeleteCode(ctx, acct.Email); err != nil {
		return fmt.Errorf("delete verification code: %w", err)
	}
	s.log.LogSecurityEvent(ctx, "verification_code_exhausted", map[string]interface{}{
		"account_id": acct.ID,
		"attempts":   verification.MaxAttempts,
	})
	return apperrors.Validation("too many failed attempts, request a new verification code")
}

// ResendCode replaces the outstanding verification code.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	acct, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound("account", account.NormalizeEmail(email))
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acct.Verified {
		return apperrors.Conflict("email is already verified")
	}
	return s.issueCode(ctx, acct.Email)
}

// Login checks credentials. Unknown emails and wrong passwords produce the
// same error.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	acct, err := s.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, apperrors.Unauthorized("invalid credentials")
	}
	if err != nil {
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return Session{}, apperrors.Unauthorized("invalid credentials")
	}
	if !acct.Verified {
		return Session{}, apperrors.Forbidden("please verify your email before logging in").WithDetails("not_verified", true)
	}
	return s.session(acct)
}

// Me returns the caller's profile.
func (s *Service) Me(ctx context.Context, accountID string) (account.Profile, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return account.Profile{}, apperrors.NotFound("account", accountID)
	}
	if err != nil {
		return account.Profile{}, fmt.Errorf("load account: %w", err)
	}
	return acct.Profile(), nil
}

func (s *Service) session(acct account.Account) (Session, error) {
	token, err := s.tokens.Issue(acct.ID, acct.Email)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, User: acct.Profile()}, nil
}

func (s *Service) issueCode(ctx context.Context, email string) error {
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}
	pending := verification.Pending{
		Email:     email,
		CodeHash:  hashCode(code),
		ExpiresAt: s.now().Add(s.cfg.CodeTTL),
	}
	if err := s.codes.PutCode(ctx, pending); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	// Delivery is best-effort; the user can ask for a resend.
	if err := s.mail.Send(ctx, mailer.VerificationCode(email, code, s.cfg.CodeTTL)); err != nil {
		s.log.WithError(err).WithField("email", email).Warn("send verification email failed")
	}
	return nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}

func codeMatches(storedHash, code string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashCode(code))) == 1
}
