package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthRefresher_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges the refresh token for an access token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
			assert.Equal(t, "cid", r.PostForm.Get("client_id"))
			assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token": "at-123", "expires_in": 3600}`))
		}))
		defer srv.Close()

		refresher := NewOAuthRefresher(OAuthConfig{
			TokenURL:     srv.URL,
			ClientID:     "cid",
			ClientSecret: "secret",
			RefreshToken: "rt-1",
		}, 5*time.Second)

		cred, err := refresher.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, "at-123", cred.AccessToken)
		assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, time.Minute)
	})

	t.Run("4xx from the provider is a permanent rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
		}))
		defer srv.Close()

		refresher := NewOAuthRefresher(OAuthConfig{TokenURL: srv.URL}, 5*time.Second)

		_, err := refresher.Refresh(ctx)
		var rejected *RefreshRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
		assert.Contains(t, rejected.Detail, "invalid_grant")
	})

	t.Run("error field with HTTP 200 is still a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"error": "invalid_client"}`))
		}))
		defer srv.Close()

		refresher := NewOAuthRefresher(OAuthConfig{TokenURL: srv.URL}, 5*time.Second)

		_, err := refresher.Refresh(ctx)
		var rejected *RefreshRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Contains(t, rejected.Detail, "invalid_client")
	})

	t.Run("5xx is transient, not a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		refresher := NewOAuthRefresher(OAuthConfig{TokenURL: srv.URL}, 5*time.Second)

		_, err := refresher.Refresh(ctx)
		require.Error(t, err)
		var rejected *RefreshRejectedError
		assert.False(t, errors.As(err, &rejected))
	})

	t.Run("missing access token is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"expires_in": 3600}`))
		}))
		defer srv.Close()

		refresher := NewOAuthRefresher(OAuthConfig{TokenURL: srv.URL}, 5*time.Second)
		_, err := refresher.Refresh(ctx)
		require.Error(t, err)
	})
}
