package auth

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/identity"
)

const minPasswordLength = 6

type AdminConfig struct {
	Provider identity.Admin
}

// Admin manages the accounts allowed into the admin console.
type Admin struct {
	provider identity.Admin
}

func NewAdmin(c AdminConfig) *Admin {
	return &Admin{provider: c.Provider}
}

func (a *Admin) ListUsers(ctx context.Context) ([]identity.User, error) {
	users, err := a.provider.ListUsers(ctx)
	if err != nil {
		return nil, errors.Provider(err)
	}
	return users, nil
}

type CreateUserRequest struct {
	Email    string
	Password string
}

// CreateUser registers an admin with an already confirmed email.
func (a *Admin) CreateUser(ctx context.Context, req CreateUserRequest) (*identity.User, error) {
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errors.Validation("a valid email is required")
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}

	u, err := a.provider.CreateUser(ctx, identity.CreateUserRequest{Email: email, Password: req.Password})
	if stderrors.Is(err, identity.ErrAlreadyExists) {
		return nil, errors.New(errors.CodeAlreadyExists, errors.WithMessagef("a user with email %s already exists", email))
	}
	if err != nil {
		return nil, errors.Provider(err)
	}

	slog.InfoContext(ctx, "auth: user created", "user", u.ID)
	return u, nil
}

type ResetPasswordRequest struct {
	UserID   string
	Password string
}

func (a *Admin) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := validatePassword(req.Password); err != nil {
		return err
	}

	return userError(a.provider.UpdatePassword(ctx, req.UserID, req.Password), req.UserID)
}

type DeleteUserRequest struct {
	// ActorID is the admin performing the deletion.
	ActorID string
	UserID  string
}

func (a *Admin) DeleteUser(ctx context.Context, req DeleteUserRequest) error {
	if req.ActorID == req.UserID {
		return errors.Validation("you cannot delete your own account")
	}

	if err := userError(a.provider.DeleteUser(ctx, req.UserID), req.UserID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "auth: user deleted", "user", req.UserID, "by", req.ActorID)
	return nil
}

// ResetMFA deletes every factor of a user, who will enroll again at next
// sign-in. It returns the number of deleted factors.
func (a *Admin) ResetMFA(ctx context.Context, userID string) (int, error) {
	u, err := a.provider.GetUserByID(ctx, userID)
	if err != nil {
		return 0, userError(err, userID)
	}

	n := 0
	for _, f := range u.Factors {
		if err := a.provider.DeleteFactor(ctx, userID, f.ID); err != nil {
			if stderrors.Is(err, identity.ErrNotFound) {
				continue
			}
			return n, errors.Provider(err)
		}
		n++
	}

	slog.InfoContext(ctx, "auth: mfa reset", "user", userID, "factors", n)
	return n, nil
}

func validatePassword(p string) error {
	if len(p) < minPasswordLength {
		return errors.Validation("the password must be at least %d characters", minPasswordLength)
	}
	return nil
}

func userError(err error, userID string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, identity.ErrNotFound):
		return errors.NotFound("user not found: %s", userID)
	default:
		return errors.Provider(err)
	}
}
