// Package gotrue talks to a hosted GoTrue auth API (the /auth/v1 REST surface).
package gotrue

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/duelhub/internal/identity"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	// URL is the project URL, without the /auth/v1 suffix.
	URL string
	// AnonKey authenticates end-user calls.
	AnonKey string
	// ServiceKey authenticates admin calls.
	ServiceKey string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	http       *http.Client
}

var _ identity.Provider = (*Client)(nil)

func New(c Config) *Client {
	cl := &Client{
		baseURL:    strings.TrimRight(c.URL, "/") + "/auth/v1",
		anonKey:    c.AnonKey,
		serviceKey: c.ServiceKey,
		http:       c.HTTPClient,
	}

	if cl.http == nil {
		cl.http = &http.Client{Timeout: defaultTimeout}
	}

	return cl
}

type (
	tokenResponse struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		ExpiresAt    int64  `json:"expires_at"`
	}

	factorResponse struct {
		ID           string    `json:"id"`
		FriendlyName string    `json:"friendly_name"`
		FactorType   string    `json:"factor_type"`
		Status       string    `json:"status"`
		CreatedAt    time.Time `json:"created_at"`
	}

	userResponse struct {
		ID               string           `json:"id"`
		Email            string           `json:"email"`
		EmailConfirmedAt *time.Time       `json:"email_confirmed_at"`
		CreatedAt        time.Time        `json:"created_at"`
		LastSignInAt     *time.Time       `json:"last_sign_in_at"`
		Factors          []factorResponse `json:"factors"`
	}

	enrollResponse struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		TOTP struct {
			QRCode string `json:"qr_code"`
			Secret string `json:"secret"`
			URI    string `json:"uri"`
		} `json:"totp"`
	}

	challengeResponse struct {
		ID        string `json:"id"`
		ExpiresAt int64  `json:"expires_at"`
	}

	// errorResponse covers both the legacy OAuth shape and the current one.
	errorResponse struct {
		Code             int    `json:"code"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
)

// APIError is a non 2xx answer of the auth API.
type APIError struct {
	Status    int
	ErrorCode string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gotrue: status %d: %s: %s", e.Status, e.ErrorCode, e.Message)
}

func (t tokenResponse) tokens() *identity.Tokens {
	res := &identity.Tokens{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	switch {
	case t.ExpiresAt > 0:
		res.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		res.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return res
}

func (u userResponse) user() identity.User {
	res := identity.User{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil,
		CreateTime:     u.CreatedAt,
		LastSignInTime: u.LastSignInAt,
		Factors:        make([]identity.Factor, 0, len(u.Factors)),
	}
	for _, f := range u.Factors {
		res.Factors = append(res.Factors, identity.Factor{
			ID:           f.ID,
			Type:         f.FactorType,
			FriendlyName: f.FriendlyName,
			Status:       identity.FactorStatus(f.Status),
			CreateTime:   f.CreatedAt,
		})
	}
	return res
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.Tokens, error) {
	var resp tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/token?grant_type=password",
		body:   map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		if isInvalidCredentials(err) {
			return nil, identity.ErrInvalidCredentials
		}
		return nil, err
	}

	return resp.tokens(), nil
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*identity.User, error) {
	var resp userResponse
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/user",
		token:  accessToken,
	}, &resp); err != nil {
		return nil, err
	}

	u := resp.user()
	return &u, nil
}

// AssuranceLevel reads the aal claim of the access token. The signature is
// not checked here: the token comes straight from the API.
func (c *Client) AssuranceLevel(_ context.Context, accessToken string) (identity.AAL, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("%w: %v", identity.ErrInvalidToken, err)
	}

	aal, _ := claims["aal"].(string)
	if aal == "" {
		return identity.AAL1, nil
	}
	return identity.AAL(aal), nil
}

func (c *Client) ListFactors(ctx context.Context, accessToken string) ([]identity.Factor, error) {
	u, err := c.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return u.Factors, nil
}

func (c *Client) Enroll(ctx context.Context, accessToken string) (*identity.Enrollment, error) {
	var resp enrollResponse
	if err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/factors",
		token:  accessToken,
		body:   map[string]string{"factor_type": identity.FactorTypeTOTP},
	}, &resp); err != nil {
		return nil, err
	}

	return &identity.Enrollment{
		FactorID: resp.ID,
		Secret:   resp.TOTP.Secret,
		URI:      resp.TOTP.URI,
	}, nil
}

func (c *Client) Challenge(ctx context.Context, accessToken, factorID string) (*identity.Challenge, error) {
	var resp challengeResponse
	if err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/factors/" + url.PathEscape(factorID) + "/challenge",
		token:  accessToken,
	}, &resp); err != nil {
		return nil, err
	}

	return &identity.Challenge{
		ID:        resp.ID,
		FactorID:  factorID,
		ExpiresAt: time.Unix(resp.ExpiresAt, 0),
	}, nil
}

func (c *Client) Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (*identity.Tokens, error) {
	var resp tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/factors/" + url.PathEscape(factorID) + "/verify",
		token:  accessToken,
		body:   map[string]string{"challenge_id": challengeID, "code": code},
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if stderrors.As(err, &apiErr) && isInvalidCode(apiErr) {
			return nil, identity.ErrInvalidCode
		}
		return nil, err
	}

	return resp.tokens(), nil
}

func (c *Client) ListUsers(ctx context.Context) ([]identity.User, error) {
	var resp struct {
		Users []userResponse `json:"users"`
	}
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/admin/users?per_page=1000",
		admin:  true,
	}, &resp); err != nil {
		return nil, err
	}

	res := make([]identity.User, 0, len(resp.Users))
	for _, u := range resp.Users {
		res = append(res, u.user())
	}
	return res, nil
}

func (c *Client) CreateUser(ctx context.Context, req identity.CreateUserRequest) (*identity.User, error) {
	var resp userResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/admin/users",
		admin:  true,
		body: map[string]any{
			"email":         req.Email,
			"password":      req.Password,
			"email_confirm": true,
		},
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if stderrors.As(err, &apiErr) && apiErr.ErrorCode == "email_exists" {
			return nil, identity.ErrAlreadyExists
		}
		return nil, err
	}

	u := resp.user()
	return &u, nil
}

func (c *Client) GetUserByID(ctx context.Context, userID string) (*identity.User, error) {
	var resp userResponse
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/admin/users/" + url.PathEscape(userID),
		admin:  true,
	}, &resp); err != nil {
		return nil, err
	}

	u := resp.user()
	return &u, nil
}

func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/admin/users/" + url.PathEscape(userID),
		admin:  true,
	}, nil)
}

func (c *Client) UpdatePassword(ctx context.Context, userID, password string) error {
	return c.do(ctx, request{
		method: http.MethodPut,
		path:   "/admin/users/" + url.PathEscape(userID),
		admin:  true,
		body:   map[string]string{"password": password},
	}, nil)
}

func (c *Client) DeleteFactor(ctx context.Context, userID, factorID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/admin/users/" + url.PathEscape(userID) + "/factors/" + url.PathEscape(factorID),
		admin:  true,
	}, nil)
}

type request struct {
	method string
	path   string
	// token is the end-user access token; empty for anonymous calls.
	token string
	admin bool
	body  any
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("gotrue: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("gotrue: new request: %w", err)
	}

	key, bearer := c.anonKey, r.token
	if r.admin {
		key, bearer = c.serviceKey, c.serviceKey
	}
	if bearer == "" {
		bearer = key
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue: %s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gotrue: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(r, resp.StatusCode, b)
	}

	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("gotrue: decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(r request, status int, b []byte) error {
	raw := strings.TrimSpace(string(b))

	var e errorResponse
	if err := json.Unmarshal(b, &e); err != nil {
		// Gateways in front of gotrue answer with HTML or plain text.
		e = errorResponse{}
	}

	apiErr := &APIError{
		Status:    status,
		ErrorCode: cmp.Or(e.ErrorCode, e.Error),
		Message:   cmp.Or(e.Msg, e.ErrorDescription, raw, http.StatusText(status)),
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", identity.ErrNotFound, apiErr)
	case status == http.StatusUnauthorized && r.token != "":
		return fmt.Errorf("%w: %w", identity.ErrInvalidToken, apiErr)
	case status == http.StatusForbidden && apiErr.ErrorCode == "bad_jwt":
		return fmt.Errorf("%w: %w", identity.ErrInvalidToken, apiErr)
	}
	return apiErr
}

func isInvalidCredentials(err error) bool {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode == "invalid_credentials" ||
		apiErr.ErrorCode == "invalid_grant" ||
		strings.Contains(apiErr.Message, "Invalid login credentials")
}

func isInvalidCode(e *APIError) bool {
	return e.ErrorCode == "mfa_verification_failed" ||
		e.ErrorCode == "mfa_challenge_expired" ||
		strings.Contains(strings.ToLower(e.Message), "invalid totp code")
}
