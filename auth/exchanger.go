package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrInvalidCredentials is returned when the identity service rejects the credentials
var ErrInvalidCredentials = errors.New("invalid credentials")

// maxTokenResponseSize caps how much of a login response is read.
const maxTokenResponseSize = 64 << 10

// TokenResponse represents the identity service login response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// PasswordExchanger exchanges email and password for a session token at the
// identity service's login endpoint.
type PasswordExchanger struct {
	loginURL   string
	httpClient *http.Client
}

// NewPasswordExchanger creates a new exchanger posting to loginURL
func NewPasswordExchanger(loginURL string, timeout time.Duration) *PasswordExchanger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PasswordExchanger{
		loginURL: loginURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Exchange posts the credentials and returns the issued token
func (e *PasswordExchanger) Exchange(ctx context.Context, email, password string) (string, error) {
	if e.loginURL == "" {
		return "", fmt.Errorf("login endpoint not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.loginURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return "", fmt.Errorf("read login response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest:
		return "", ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		// The body may echo credentials, so only the status is reported.
		return "", fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse login response: %w", err)
	}

	token := tokenResp.AccessToken
	if token == "" {
		token = tokenResp.Token
	}
	if token == "" {
		return "", fmt.Errorf("no token in login response")
	}

	return token, nil
}
