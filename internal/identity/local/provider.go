// Package local is a self-hosted identity provider backed by Redis, used for
// development and tests in place of the hosted auth API.
package local

import (
	"cmp"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/victornm/duelhub/internal/identity"
)

const (
	defaultTokenTTL     = time.Hour
	defaultChallengeTTL = 5 * time.Minute
	totpPeriod          = 30
)

type Config struct {
	Redis        redis.UniversalClient
	Prefix       string
	SigningKey   []byte
	Issuer       string
	TokenTTL     time.Duration
	ChallengeTTL time.Duration
	Now          func() time.Time
}

type Provider struct {
	redis        redis.UniversalClient
	prefix       string
	key          []byte
	issuer       string
	tokenTTL     time.Duration
	challengeTTL time.Duration
	now          func() time.Time
}

var _ identity.Provider = (*Provider)(nil)

func New(c Config) *Provider {
	p := &Provider{
		redis:        c.Redis,
		prefix:       c.Prefix,
		key:          c.SigningKey,
		issuer:       c.Issuer,
		tokenTTL:     c.TokenTTL,
		challengeTTL: c.ChallengeTTL,
		now:          c.Now,
	}

	if p.tokenTTL <= 0 {
		p.tokenTTL = defaultTokenTTL
	}
	if p.challengeTTL <= 0 {
		p.challengeTTL = defaultChallengeTTL
	}
	if p.now == nil {
		p.now = time.Now
	}

	return p
}

// Claims are the claims of the access tokens issued by the provider.
type Claims struct {
	Email string       `json:"email"`
	AAL   identity.AAL `json:"aal"`
	jwt.RegisteredClaims
}

type userRecord struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	PasswordHash   string         `json:"password_hash"`
	CreateTime     time.Time      `json:"create_time"`
	LastSignInTime *time.Time     `json:"last_sign_in_time,omitempty"`
	Factors        []factorRecord `json:"factors"`
}

type factorRecord struct {
	ID         string                `json:"id"`
	Secret     string                `json:"secret"`
	Status     identity.FactorStatus `json:"status"`
	CreateTime time.Time             `json:"create_time"`
}

type challengeRecord struct {
	UserID   string `json:"user_id"`
	FactorID string `json:"factor_id"`
}

func (u *userRecord) user() identity.User {
	res := identity.User{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: true,
		CreateTime:     u.CreateTime,
		LastSignInTime: u.LastSignInTime,
		Factors:        make([]identity.Factor, 0, len(u.Factors)),
	}
	for _, f := range u.Factors {
		res.Factors = append(res.Factors, identity.Factor{
			ID:         f.ID,
			Type:       identity.FactorTypeTOTP,
			Status:     f.Status,
			CreateTime: f.CreateTime,
		})
	}
	return res
}

func (u *userRecord) factor(id string) *factorRecord {
	for i := range u.Factors {
		if u.Factors[i].ID == id {
			return &u.Factors[i]
		}
	}
	return nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Tokens, error) {
	id, err := p.redis.HGet(ctx, p.emailsKey(), normalizeEmail(email)).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user id: %w", err)
	}

	var u *userRecord
	err = p.updateUser(ctx, id, func(r *userRecord) error {
		if err := bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)); err != nil {
			return identity.ErrInvalidCredentials
		}
		now := p.now().UTC()
		r.LastSignInTime = &now
		u = r
		return nil
	})
	if stderrors.Is(err, identity.ErrNotFound) {
		return nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	return p.issueTokens(u, identity.AAL1)
}

func (p *Provider) GetUser(ctx context.Context, accessToken string) (*identity.User, error) {
	u, _, err := p.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	res := u.user()
	return &res, nil
}

func (p *Provider) AssuranceLevel(_ context.Context, accessToken string) (identity.AAL, error) {
	c, err := p.parse(accessToken)
	if err != nil {
		return "", err
	}
	return c.AAL, nil
}

func (p *Provider) ListFactors(ctx context.Context, accessToken string) ([]identity.Factor, error) {
	u, err := p.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return u.Factors, nil
}

// Enroll creates a new unverified TOTP factor. Unverified factors left over
// from earlier enrollments are dropped.
func (p *Provider) Enroll(ctx context.Context, accessToken string) (*identity.Enrollment, error) {
	c, err := p.parse(accessToken)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: c.Email,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate factor ID: %w", err)
	}

	err = p.updateUser(ctx, c.Subject, func(r *userRecord) error {
		r.Factors = slices.DeleteFunc(r.Factors, func(f factorRecord) bool {
			return f.Status != identity.FactorStatusVerified
		})
		r.Factors = append(r.Factors, factorRecord{
			ID:         id.String(),
			Secret:     key.Secret(),
			Status:     identity.FactorStatusUnverified,
			CreateTime: p.now().UTC(),
		})
		return nil
	})
	if stderrors.Is(err, identity.ErrNotFound) {
		return nil, identity.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	return &identity.Enrollment{
		FactorID: id.String(),
		Secret:   key.Secret(),
		URI:      key.URL(),
	}, nil
}

func (p *Provider) Challenge(ctx context.Context, accessToken, factorID string) (*identity.Challenge, error) {
	u, _, err := p.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if u.factor(factorID) == nil {
		return nil, identity.ErrNotFound
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate challenge ID: %w", err)
	}

	b, err := json.Marshal(challengeRecord{UserID: u.ID, FactorID: factorID})
	if err != nil {
		return nil, fmt.Errorf("marshal challenge: %w", err)
	}

	if err := p.redis.Set(ctx, p.challengeKey(id.String()), b, p.challengeTTL).Err(); err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}

	return &identity.Challenge{
		ID:        id.String(),
		FactorID:  factorID,
		ExpiresAt: p.now().Add(p.challengeTTL),
	}, nil
}

// Verify checks code against the factor secret. The challenge is consumed
// whatever the outcome.
func (p *Provider) Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (*identity.Tokens, error) {
	c, err := p.parse(accessToken)
	if err != nil {
		return nil, err
	}

	b, err := p.redis.GetDel(ctx, p.challengeKey(challengeID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, identity.ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}

	var ch challengeRecord
	if err := json.Unmarshal(b, &ch); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	if ch.UserID != c.Subject || ch.FactorID != factorID {
		return nil, identity.ErrInvalidCode
	}

	var u *userRecord
	err = p.updateUser(ctx, c.Subject, func(r *userRecord) error {
		f := r.factor(factorID)
		if f == nil {
			return identity.ErrNotFound
		}

		ok, err := totp.ValidateCustom(code, f.Secret, p.now().UTC(), totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil || !ok {
			return identity.ErrInvalidCode
		}

		f.Status = identity.FactorStatusVerified
		u = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p.issueTokens(u, identity.AAL2)
}

func (p *Provider) ListUsers(ctx context.Context) ([]identity.User, error) {
	m, err := p.redis.HGetAll(ctx, p.usersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	res := make([]identity.User, 0, len(m))
	for id, v := range m {
		var r userRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("unmarshal user %s: %w", id, err)
		}
		res = append(res, r.user())
	}

	slices.SortFunc(res, func(a, b identity.User) int {
		if c := b.CreateTime.Compare(a.CreateTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Email, b.Email)
	})

	return res, nil
}

// CreateUser registers a user with a confirmed email.
func (p *Provider) CreateUser(ctx context.Context, req identity.CreateUserRequest) (*identity.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user ID: %w", err)
	}

	r := userRecord{
		ID:           id.String(),
		Email:        normalizeEmail(req.Email),
		PasswordHash: string(hash),
		CreateTime:   p.now().UTC(),
	}

	ok, err := p.redis.HSetNX(ctx, p.emailsKey(), r.Email, r.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve email: %w", err)
	}
	if !ok {
		return nil, identity.ErrAlreadyExists
	}

	if err := p.saveUser(ctx, p.redis, &r); err != nil {
		return nil, err
	}

	u := r.user()
	return &u, nil
}

func (p *Provider) GetUserByID(ctx context.Context, userID string) (*identity.User, error) {
	r, err := p.getUser(ctx, p.redis, userID)
	if err != nil {
		return nil, err
	}

	u := r.user()
	return &u, nil
}

func (p *Provider) DeleteUser(ctx context.Context, userID string) error {
	r, err := p.getUser(ctx, p.redis, userID)
	if err != nil {
		return err
	}

	_, err = p.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, p.usersKey(), r.ID)
		pipe.HDel(ctx, p.emailsKey(), r.Email)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (p *Provider) UpdatePassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return p.updateUser(ctx, userID, func(r *userRecord) error {
		r.PasswordHash = string(hash)
		return nil
	})
}

func (p *Provider) DeleteFactor(ctx context.Context, userID, factorID string) error {
	return p.updateUser(ctx, userID, func(r *userRecord) error {
		if r.factor(factorID) == nil {
			return identity.ErrNotFound
		}
		r.Factors = slices.DeleteFunc(r.Factors, func(f factorRecord) bool {
			return f.ID == factorID
		})
		return nil
	})
}

func (p *Provider) issueTokens(u *userRecord, aal identity.AAL) (*identity.Tokens, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate token ID: %w", err)
	}

	now := p.now()
	exp := now.Add(p.tokenTTL)
	c := Claims{
		Email: u.Email,
		AAL:   aal,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Subject:   u.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	refresh, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	return &identity.Tokens{
		AccessToken:  token,
		RefreshToken: refresh.String(),
		ExpiresAt:    exp,
	}, nil
}

func (p *Provider) parse(accessToken string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(accessToken, &c, func(*jwt.Token) (any, error) {
		return p.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrInvalidToken, err)
	}
	return &c, nil
}

func (p *Provider) authenticate(ctx context.Context, accessToken string) (*userRecord, *Claims, error) {
	c, err := p.parse(accessToken)
	if err != nil {
		return nil, nil, err
	}

	u, err := p.getUser(ctx, p.redis, c.Subject)
	if stderrors.Is(err, identity.ErrNotFound) {
		return nil, nil, identity.ErrInvalidToken
	}
	if err != nil {
		return nil, nil, err
	}

	return u, c, nil
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

type hashSetter interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
}

func (p *Provider) getUser(ctx context.Context, r hashGetter, id string) (*userRecord, error) {
	b, err := r.HGet(ctx, p.usersKey(), id).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	var u userRecord
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

func (p *Provider) saveUser(ctx context.Context, w hashSetter, u *userRecord) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := w.HSet(ctx, p.usersKey(), u.ID, b).Err(); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// updateUser applies fn to the stored user with optimistic locking on the
// users hash.
func (p *Provider) updateUser(ctx context.Context, id string, fn func(r *userRecord) error) error {
	return p.redis.Watch(ctx, func(tx *redis.Tx) error {
		u, err := p.getUser(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := fn(u); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return p.saveUser(ctx, pipe, u)
		})
		return err
	}, p.usersKey())
}

func (p *Provider) usersKey() string {
	return fmt.Sprintf("%s:users", p.prefix)
}

func (p *Provider) emailsKey() string {
	return fmt.Sprintf("%s:emails", p.prefix)
}

func (p *Provider) challengeKey(id string) string {
	return fmt.Sprintf("%s:challenge:%s", p.prefix, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
