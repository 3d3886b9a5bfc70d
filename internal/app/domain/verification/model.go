package verification

import "time"

// MaxAttempts is how many wrong guesses a code survives.
const MaxAttempts = 5

// Pending is an outstanding email verification code. Only the SHA-256 hash
// of the code is kept.
type Pending struct {
	Email     string    `json:"email"`
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// Expired reports whether the code is past its deadline at now.
func (p Pending) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Exhausted reports whether the code has absorbed too many wrong guesses.
func (p Pending) Exhausted() bool {
	return p.Attempts >= MaxAttempts
}
