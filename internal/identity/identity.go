// Package identity describes the identity provider the admin console signs in
// against: password sign-in, TOTP factors and user administration.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrInvalidToken       = errors.New("identity: invalid or expired token")
	ErrInvalidCode        = errors.New("identity: invalid verification code")
	ErrNotFound           = errors.New("identity: not found")
	ErrAlreadyExists      = errors.New("identity: already exists")
)

// AAL is the authenticator assurance level of a session.
type AAL string

const (
	AAL1 AAL = "aal1"
	AAL2 AAL = "aal2"
)

type FactorStatus string

const (
	FactorStatusVerified   FactorStatus = "verified"
	FactorStatusUnverified FactorStatus = "unverified"
)

const FactorTypeTOTP = "totp"

type Factor struct {
	ID           string
	Type         string
	FriendlyName string
	Status       FactorStatus
	CreateTime   time.Time
}

func (f Factor) Verified() bool {
	return f.Status == FactorStatusVerified
}

// VerifiedFactors keeps the verified factors, in the given order.
func VerifiedFactors(factors []Factor) []Factor {
	var res []Factor
	for _, f := range factors {
		if f.Verified() {
			res = append(res, f)
		}
	}
	return res
}

type User struct {
	ID             string
	Email          string
	EmailConfirmed bool
	CreateTime     time.Time
	LastSignInTime *time.Time
	Factors        []Factor
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Enrollment is a freshly created, still unverified, TOTP factor.
type Enrollment struct {
	FactorID string
	Secret   string
	// URI is the otpauth:// URI authenticator apps import.
	URI string
}

type Challenge struct {
	ID        string
	FactorID  string
	ExpiresAt time.Time
}

type CreateUserRequest struct {
	Email    string
	Password string
}

// Authenticator is the end-user side of the provider. Every call is made on
// behalf of the holder of accessToken.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Tokens, error)
	GetUser(ctx context.Context, accessToken string) (*User, error)
	AssuranceLevel(ctx context.Context, accessToken string) (AAL, error)
	ListFactors(ctx context.Context, accessToken string) ([]Factor, error)
	Enroll(ctx context.Context, accessToken string) (*Enrollment, error)
	Challenge(ctx context.Context, accessToken, factorID string) (*Challenge, error)
	// Verify consumes the challenge. On success the returned tokens carry aal2.
	Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (*Tokens, error)
}

// Admin manages accounts with the provider's service credentials.
type Admin interface {
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
	DeleteUser(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, password string) error
	DeleteFactor(ctx context.Context, userID, factorID string) error
}

type Provider interface {
	Authenticator
	Admin
}
