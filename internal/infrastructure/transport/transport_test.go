package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("performs a GET with query parameters", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GET", r.Method)
			assert.Equal(t, "2026-01-01", r.URL.Query().Get("date_start"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"transactions": []}`))
		}))
		defer srv.Close()

		tr := New(5 * time.Second)
		resp, err := tr.Do(ctx, &Request{
			Method: http.MethodGet,
			URL:    srv.URL + "/banktransactions",
			Query:  url.Values{"date_start": []string{"2026-01-01"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		data, err := resp.JSON()
		require.NoError(t, err)
		assert.Contains(t, data, "transactions")
	})

	t.Run("encodes the body as JSON and sets content type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "acme", body["customer_name"])
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		tr := New(5 * time.Second)
		resp, err := tr.Do(ctx, &Request{
			Method: http.MethodPost,
			URL:    srv.URL + "/invoices",
			Body:   map[string]any{"customer_name": "acme"},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("custom headers are forwarded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Zoho-oauthtoken tok-1", r.Header.Get("Authorization"))
		}))
		defer srv.Close()

		tr := New(5 * time.Second)
		header := http.Header{}
		header.Set("Authorization", "Zoho-oauthtoken tok-1")
		_, err := tr.Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL, Header: header})
		require.NoError(t, err)
	})

	t.Run("non-2xx becomes a typed error with a body snippet", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message": "invalid customer"}`))
		}))
		defer srv.Close()

		tr := New(5 * time.Second)
		_, err := tr.Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL})

		var httpErr *Error
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		assert.Contains(t, httpErr.Snippet, "invalid customer")
	})

	t.Run("429 carries the Retry-After hint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		tr := New(5 * time.Second)
		_, err := tr.Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL})

		var httpErr *Error
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
		assert.Equal(t, 7*time.Second, httpErr.RetryAfter)
	})

	t.Run("slow server times out", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		defer srv.Close()

		tr := New(30 * time.Millisecond)
		_, err := tr.Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL})
		require.Error(t, err)
		var httpErr *Error
		assert.False(t, errors.As(err, &httpErr))
	})

	t.Run("connection refused surfaces as a network error", func(t *testing.T) {
		tr := New(time.Second)
		_, err := tr.Do(ctx, &Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
		require.Error(t, err)
	})
}

func TestResponse_JSON(t *testing.T) {
	t.Run("empty body decodes to an empty object", func(t *testing.T) {
		resp := &Response{StatusCode: 204}
		data, err := resp.JSON()
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("non-object body is rejected", func(t *testing.T) {
		resp := &Response{StatusCode: 200, Body: []byte(`[1,2,3]`)}
		_, err := resp.JSON()
		assert.Error(t, err)
	})
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("not-a-number"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
}
