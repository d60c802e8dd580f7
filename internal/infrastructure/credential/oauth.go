package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/shared"
)

// maxTokenResponseSize bounds the identity provider response body.
const maxTokenResponseSize = 1 << 20

// OAuthConfig holds the refresh-token grant parameters for one connector.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// OAuthRefresher mints short-lived access tokens through the OAuth2
// refresh-token grant (the Zoho Books scheme).
type OAuthRefresher struct {
	cfg    OAuthConfig
	client *http.Client
	clock  shared.Clock
}

// NewOAuthRefresher creates an OAuthRefresher with the given per-call
// timeout.
func NewOAuthRefresher(cfg OAuthConfig, timeout time.Duration) *OAuthRefresher {
	return &OAuthRefresher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		clock:  shared.SystemClock{},
	}
}

// tokenResponse is the provider's refresh grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// Refresh performs one refresh-token round trip. A 4xx from the provider
// means the stored grant is no longer honored and comes back as
// *RefreshRejectedError; network failures and 5xx responses are transient.
func (r *OAuthRefresher) Refresh(ctx context.Context) (*integration.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", r.cfg.RefreshToken)
	form.Set("client_id", r.cfg.ClientID)
	form.Set("client_secret", r.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("credential: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential: token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("credential: failed to read token response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &RefreshRejectedError{StatusCode: resp.StatusCode, Detail: snippet(raw)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential: token endpoint returned HTTP %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("credential: malformed token response: %w", err)
	}
	// Zoho reports grant errors with HTTP 200 and an error field
	if token.Error != "" {
		return nil, &RefreshRejectedError{StatusCode: resp.StatusCode, Detail: token.Error}
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("credential: token response missing access_token")
	}

	now := r.clock.Now().UTC()
	cred := &integration.Credential{
		AccessToken: token.AccessToken,
		IssuedAt:    now,
	}
	if token.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return cred, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
