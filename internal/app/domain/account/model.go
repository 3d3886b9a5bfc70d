package account

import (
	"strings"
	"time"
)

// Plan is the subscription tier an account is on.
type Plan string

const (
	PlanFree  Plan = "Free"
	PlanBasic Plan = "Basic"
	PlanPro   Plan = "Pro"
)

// ParsePlan maps a case-insensitive plan name to a Plan.
func ParsePlan(raw string) (Plan, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "free":
		return PlanFree, true
	case "basic":
		return PlanBasic, true
	case "pro":
		return PlanPro, true
	default:
		return "", false
	}
}

// Account is a registered user and their credit balance. Credits never go
// negative; Version increases on every balance change and guards concurrent
// writers.
type Account struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Credits      int64     `json:"credits" db:"credits"`
	Plan         Plan      `json:"plan" db:"plan"`
	Verified     bool      `json:"verified" db:"verified"`
	Version      int64     `json:"-" db:"version"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Profile is the public view of an account.
type Profile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Credits int64  `json:"credits"`
	Plan    Plan   `json:"plan"`
}

// Profile strips credentials from the account.
func (a Account) Profile() Profile {
	return Profile{ID: a.ID, Email: a.Email, Credits: a.Credits, Plan: a.Plan}
}

// NormalizeEmail lowercases and trims an address; emails are unique
// case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
