// Package redisstore keeps verification codes in Redis so they expire on
// their own and are shared across replicas.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/verification"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
)

const defaultPrefix = "imagebulk:verify:"

// recordMiss bumps the miss counter of a live code and gives the counter the
// code's remaining lifetime. It returns -1 when no code is live.
var recordMiss = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
	return -1
end
local n = redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ttl)
return n
`)

// VerificationStore implements storage.VerificationStore on Redis.
type VerificationStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ storage.VerificationStore = (*VerificationStore)(nil)

// New wraps a Redis client. An empty prefix uses the default key namespace.
func New(client redis.UniversalClient, prefix string) *VerificationStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &VerificationStore{client: client, prefix: prefix, now: time.Now}
}

// NewClient builds a client from connection settings and pings it.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *VerificationStore) key(email string) string {
	return s.prefix + account.NormalizeEmail(email)
}

func (s *VerificationStore) attemptsKey(email string) string {
	return s.key(email) + ":attempts"
}

func (s *VerificationStore) PutCode(ctx context.Context, pending verification.Pending) error {
	pending.Email = account.NormalizeEmail(pending.Email)
	ttl := pending.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.DeleteCode(ctx, pending.Email)
	}
	attempts := pending.Attempts
	pending.Attempts = 0
	payload, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(pending.Email), payload, ttl)
		if attempts > 0 {
			pipe.Set(ctx, s.attemptsKey(pending.Email), attempts, ttl)
		} else {
			pipe.Del(ctx, s.attemptsKey(pending.Email))
		}
		return nil
	})
	return err
}

func (s *VerificationStore) GetCode(ctx context.Context, email string) (verification.Pending, error) {
	raw, err := s.client.Get(ctx, s.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return verification.Pending{}, storage.ErrNotFound
	}
	if err != nil {
		return verification.Pending{}, err
	}

	var pending verification.Pending
	if err := json.Unmarshal(raw, &pending); err != nil {
		return verification.Pending{}, fmt.Errorf("decode verification code: %w", err)
	}
	// Redis expiry has second granularity.
	if pending.Expired(s.now()) {
		return verification.Pending{}, storage.ErrNotFound
	}

	attempts, err := s.client.Get(ctx, s.attemptsKey(email)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return verification.Pending{}, err
	}
	pending.Attempts = attempts
	return pending, nil
}

func (s *VerificationStore) RecordFailedAttempt(ctx context.Context, email string) (int, error) {
	n, err := recordMiss.Run(ctx, s.client, []string{s.key(email), s.attemptsKey(email)}).Int()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, storage.ErrNotFound
	}
	return n, nil
}

func (s *VerificationStore) DeleteCode(ctx context.Context, email string) error {
	return s.client.Del(ctx, s.key(email), s.attemptsKey(email)).Err()
}
