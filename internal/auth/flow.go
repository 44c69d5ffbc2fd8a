// Package auth runs the step-up sign-in of the admin console: a password
// sign-in gives an aal1 session, and only a verified TOTP code raises it to
// aal2, the level every protected operation requires.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/identity"
	"github.com/victornm/duelhub/internal/session"
	"github.com/victornm/duelhub/internal/telemetry"
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

type SessionStore interface {
	Save(ctx context.Context, s *session.Session) error
	Get(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
}

type Config struct {
	Provider identity.Authenticator
	Sessions SessionStore
	Now      func() time.Time
}

type Flow struct {
	provider identity.Authenticator
	sessions SessionStore
	now      func() time.Time
}

func NewFlow(c Config) *Flow {
	f := &Flow{
		provider: c.Provider,
		sessions: c.Sessions,
		now:      c.Now,
	}

	if f.now == nil {
		f.now = time.Now
	}

	return f
}

type LoginRequest struct {
	Email    string
	Password string
}

// Login checks the password and moves the new session to enrollment or to a
// challenge, depending on whether the user already has a verified factor.
func (f *Flow) Login(ctx context.Context, req LoginRequest) (*session.Session, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, errors.Validation("email and password are required")
	}

	tokens, err := f.provider.SignInWithPassword(ctx, req.Email, req.Password)
	if stderrors.Is(err, identity.ErrInvalidCredentials) {
		return nil, errors.InvalidCredentials("invalid email or password")
	}
	if err != nil {
		return nil, errors.Provider(err)
	}

	u, err := f.provider.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		return nil, providerError(err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	s := &session.Session{
		ID:           id.String(),
		Step:         session.StepPasswordVerified,
		AAL:          identity.AAL1,
		UserID:       u.ID,
		Email:        u.Email,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		CreateTime:   f.now().UTC(),
	}

	if err := f.route(ctx, s); err != nil {
		return nil, err
	}

	if err := f.save(ctx, s); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "auth: password verified", "session", s.ID, "user", s.UserID, "step", s.Step)

	return s, nil
}

// ListFactors returns the verified factors of the token holder, in provider order.
func (f *Flow) ListFactors(ctx context.Context, accessToken string) ([]identity.Factor, error) {
	factors, err := f.provider.ListFactors(ctx, accessToken)
	if err != nil {
		return nil, providerError(err)
	}
	return identity.VerifiedFactors(factors), nil
}

// Enroll starts the enrollment of a new TOTP factor. The session stays below
// aal2 until a code from the new factor is verified.
func (f *Flow) Enroll(ctx context.Context, s *session.Session) error {
	enr, err := f.provider.Enroll(ctx, s.AccessToken)
	if err != nil {
		return providerError(err)
	}

	qr, err := QRCodeDataURI(enr.URI)
	if err != nil {
		return errors.Provider(err)
	}

	s.Step = session.StepEnrollmentPending
	s.FactorID = enr.FactorID
	s.ChallengeID = ""
	s.Enrollment = &session.Enrollment{
		QRCode: qr,
		Secret: enr.Secret,
		URI:    enr.URI,
	}
	return nil
}

// IssueChallenge opens a fresh challenge on the session factor.
func (f *Flow) IssueChallenge(ctx context.Context, s *session.Session) error {
	ch, err := f.provider.Challenge(ctx, s.AccessToken, s.FactorID)
	if err != nil {
		return providerError(err)
	}

	s.Step = session.StepChallengeIssued
	s.ChallengeID = ch.ID
	return nil
}

type VerifyRequest struct {
	SessionID string
	Code      string
}

// Verify checks a one-time code. A wrong code leaves the session on its step;
// on the challenge step the used challenge is replaced by a new one.
func (f *Flow) Verify(ctx context.Context, req VerifyRequest) (*session.Session, error) {
	code := strings.TrimSpace(req.Code)
	if !codePattern.MatchString(code) {
		return nil, errors.Validation("the code must be exactly 6 digits")
	}

	s, err := f.get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	step := s.Step
	var challengeID string
	switch step {
	case session.StepAuthenticated:
		return s, nil
	case session.StepEnrollmentPending:
		ch, err := f.provider.Challenge(ctx, s.AccessToken, s.FactorID)
		if err != nil {
			return nil, providerError(err)
		}
		challengeID = ch.ID
	case session.StepChallengeIssued:
		challengeID = s.ChallengeID
	default:
		return nil, errors.InvalidTransition("no verification is pending for session %s", s.ID)
	}

	tokens, err := f.provider.Verify(ctx, s.AccessToken, s.FactorID, challengeID, code)
	if stderrors.Is(err, identity.ErrInvalidCode) {
		telemetry.AuthVerifications.WithLabelValues(string(step), "invalid").Inc()

		if step == session.StepChallengeIssued {
			if err := f.IssueChallenge(ctx, s); err != nil {
				return nil, err
			}
			if err := f.save(ctx, s); err != nil {
				return nil, err
			}
		}

		return nil, errors.Validation("invalid code, please try again")
	}
	if err != nil {
		telemetry.AuthVerifications.WithLabelValues(string(step), "error").Inc()
		return nil, providerError(err)
	}

	telemetry.AuthVerifications.WithLabelValues(string(step), "ok").Inc()

	aal, err := f.provider.AssuranceLevel(ctx, tokens.AccessToken)
	if err != nil {
		return nil, providerError(err)
	}

	s.Step = session.StepAuthenticated
	s.AAL = aal
	s.AccessToken = tokens.AccessToken
	s.RefreshToken = tokens.RefreshToken
	s.ChallengeID = ""
	s.Enrollment = nil

	if err := f.save(ctx, s); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "auth: session authenticated", "session", s.ID, "user", s.UserID, "from", step)

	return s, nil
}

// Resume re-enters the flow for an existing session, e.g. after a reload.
func (f *Flow) Resume(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := f.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := f.route(ctx, s); err != nil {
		if errors.Convert(err).Code == errors.CodeUnauthenticated {
			if err := f.sessions.Delete(ctx, s.ID); err != nil {
				slog.ErrorContext(ctx, "auth: delete expired session failed", "session", s.ID, "error", err)
			}
		}
		return nil, err
	}

	if err := f.save(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Authorize is the gate of every protected operation. Only an aal2 token of a
// user with a verified factor passes; anything less counts as no session.
func (f *Flow) Authorize(ctx context.Context, accessToken string) (*identity.User, error) {
	if accessToken == "" {
		return nil, errors.Unauthenticated("authentication required")
	}

	u, err := f.provider.GetUser(ctx, accessToken)
	if err != nil {
		return nil, providerError(err)
	}

	aal, err := f.provider.AssuranceLevel(ctx, accessToken)
	if err != nil {
		return nil, providerError(err)
	}

	if aal != identity.AAL2 || len(identity.VerifiedFactors(u.Factors)) == 0 {
		return nil, errors.Unauthenticated("two-factor authentication required")
	}

	return u, nil
}

func (f *Flow) Logout(ctx context.Context, sessionID string) error {
	return f.sessions.Delete(ctx, sessionID)
}

// route moves s to the step matching the state of its user at the provider.
func (f *Flow) route(ctx context.Context, s *session.Session) error {
	aal, err := f.provider.AssuranceLevel(ctx, s.AccessToken)
	if err != nil {
		return providerError(err)
	}

	factors, err := f.ListFactors(ctx, s.AccessToken)
	if err != nil {
		return err
	}

	s.AAL = aal

	switch {
	case len(factors) == 0:
		if s.Step == session.StepEnrollmentPending && s.Enrollment != nil {
			return nil
		}
		return f.Enroll(ctx, s)
	case aal == identity.AAL2:
		s.Step = session.StepAuthenticated
		s.FactorID = factors[0].ID
		s.ChallengeID = ""
		s.Enrollment = nil
		return nil
	default:
		s.FactorID = factors[0].ID
		s.Enrollment = nil
		return f.IssueChallenge(ctx, s)
	}
}

func (f *Flow) get(ctx context.Context, id string) (*session.Session, error) {
	s, err := f.sessions.Get(ctx, id)
	if stderrors.Is(err, session.ErrNotFound) {
		return nil, errors.NotFound("sign-in session not found or expired: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (f *Flow) save(ctx context.Context, s *session.Session) error {
	s.UpdateTime = f.now().UTC()
	return f.sessions.Save(ctx, s)
}

func providerError(err error) error {
	if stderrors.Is(err, identity.ErrInvalidToken) {
		return errors.Unauthenticated("your session has expired, please sign in again")
	}
	return errors.Provider(err)
}
