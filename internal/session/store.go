// Package session keeps the state of admin console sign-ins in Redis while
// they step up from password to TOTP.
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/duelhub/internal/identity"
)

const defaultTTL = 24 * time.Hour

var ErrNotFound = stderrors.New("session: not found")

// Step is the position of a session in the sign-in flow.
type Step string

const (
	StepUnauthenticated   Step = "unauthenticated"
	StepPasswordVerified  Step = "password_verified"
	StepEnrollmentPending Step = "enrollment_pending"
	StepChallengeIssued   Step = "challenge_issued"
	StepAuthenticated     Step = "authenticated"
)

// Enrollment is what the user needs to add the new factor to an
// authenticator app.
type Enrollment struct {
	// QRCode is a PNG data URI of the otpauth URI.
	QRCode string `json:"qr_code"`
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

type Session struct {
	ID           string       `json:"id"`
	Step         Step         `json:"step"`
	AAL          identity.AAL `json:"aal"`
	UserID       string       `json:"user_id"`
	Email        string       `json:"email"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	FactorID     string       `json:"factor_id,omitempty"`
	ChallengeID  string       `json:"challenge_id,omitempty"`
	Enrollment   *Enrollment  `json:"enrollment,omitempty"`
	CreateTime   time.Time    `json:"create_time"`
	UpdateTime   time.Time    `json:"update_time"`
}

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewStore(c Config) *Store {
	s := &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}

	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}

	return s
}

// Save writes the session and resets its expiry.
func (s *Store) Save(ctx context.Context, ss *Session) error {
	b, err := json.Marshal(ss)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(ss.ID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	b, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var ss Session
	if err := json.Unmarshal(b, &ss); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &ss, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) key(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}
