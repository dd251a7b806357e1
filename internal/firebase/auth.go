// Package firebase implements the identity provider token endpoints and the
// per-user limit records kept in the document store.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL  = "https://identitytoolkit.googleapis.com/v1"
	DefaultTokenURL = "https://securetoken.googleapis.com/v1/token"
)

// APIError is the provider's {error:{message}} envelope
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Grant is a token pair issued by the provider
type Grant struct {
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
	UserID       string
	Email        string
}

// Token converts the grant into an oauth2 token expiring ExpiresIn after issued
func (g *Grant) Token(issued time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  g.IDToken,
		TokenType:    "Bearer",
		RefreshToken: g.RefreshToken,
		Expiry:       issued.Add(g.ExpiresIn),
	}
}

// AuthClient calls the password sign-in, sign-up and refresh endpoints
type AuthClient struct {
	APIKey     string
	AuthURL    string
	TokenURL   string
	HTTPClient *http.Client
}

// NewAuthClient creates a client. Empty URLs select the provider defaults.
func NewAuthClient(apiKey, authURL, tokenURL string, timeout time.Duration) *AuthClient {
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &AuthClient{
		APIKey:     apiKey,
		AuthURL:    strings.TrimRight(authURL, "/"),
		TokenURL:   tokenURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordResponse struct {
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    string    `json:"expiresIn"`
	LocalID      string    `json:"localId"`
	Email        string    `json:"email"`
	Error        *apiError `json:"error"`
}

type refreshResponse struct {
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    string    `json:"expires_in"`
	UserID       string    `json:"user_id"`
	Error        *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SignIn exchanges an email and password for a token pair
func (c *AuthClient) SignIn(ctx context.Context, email, password string) (*Grant, error) {
	return c.password(ctx, "accounts:signInWithPassword", email, password)
}

// SignUp creates an account and returns its token pair
func (c *AuthClient) SignUp(ctx context.Context, email, password string) (*Grant, error) {
	return c.password(ctx, "accounts:signUp", email, password)
}

// Refresh exchanges a refresh token for a new token pair
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	var out refreshResponse
	status, err := c.post(ctx, c.TokenURL, body, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != nil || status != http.StatusOK {
		return nil, envelopeError(status, out.Error)
	}
	return &Grant{
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    seconds(out.ExpiresIn),
		UserID:       out.UserID,
	}, nil
}

func (c *AuthClient) password(ctx context.Context, method, email, password string) (*Grant, error) {
	body, err := json.Marshal(passwordRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, err
	}
	var out passwordResponse
	status, err := c.post(ctx, c.AuthURL+"/"+method, body, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != nil || status != http.StatusOK {
		return nil, envelopeError(status, out.Error)
	}
	return &Grant{
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    seconds(out.ExpiresIn),
		UserID:       out.LocalID,
		Email:        out.Email,
	}, nil
}

// post sends body and decodes the JSON answer whatever the status, since
// error envelopes come with 4xx codes
func (c *AuthClient) post(ctx context.Context, endpoint string, body []byte, out any) (int, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("key", c.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode == http.StatusOK {
			return resp.StatusCode, fmt.Errorf("decode token response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func envelopeError(status int, e *apiError) error {
	if e != nil && e.Message != "" {
		return &APIError{Status: status, Message: e.Message}
	}
	return &APIError{Status: status, Message: http.StatusText(status)}
}

func seconds(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return time.Hour
	}
	return time.Duration(n) * time.Second
}
