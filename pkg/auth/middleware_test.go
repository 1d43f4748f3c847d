package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/auth"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.UserFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(id.String()))
	})
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	userID := uuid.New()
	token, err := svc.Issue(userID)
	require.NoError(t, err)

	t.Run("valid bearer token", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		auth.Middleware(svc)(echoUser()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userID.String(), rec.Body.String())
	})

	t.Run("missing token passes through anonymously", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		auth.Middleware(svc)(echoUser()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()

		auth.Middleware(svc)(echoUser()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("configured token header", func(t *testing.T) {
		t.Parallel()
		headerSvc, err := auth.New(auth.Config{SigningKey: "k3y", Issuer: "quotakit", TokenTTL: time.Hour, TokenHeader: "X-Api-Token"})
		require.NoError(t, err)
		headerToken, err := headerSvc.Issue(userID)
		require.NoError(t, err)

		for _, set := range []func(*http.Request){
			func(r *http.Request) { r.Header.Set("X-Api-Token", headerToken) },
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+headerToken) },
		} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			set(req)
			rec := httptest.NewRecorder()
			auth.Middleware(headerSvc)(echoUser()).ServeHTTP(rec, req)
			assert.Equal(t, userID.String(), rec.Body.String())
		}
	})

	t.Run("custom extractor and error handler", func(t *testing.T) {
		t.Parallel()
		var handled error
		mw := auth.Middleware(svc,
			auth.WithExtractor(auth.HeaderTokenExtractor("X-Api-Token")),
			auth.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
				handled = err
				w.WriteHeader(http.StatusForbidden)
			}),
		)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Api-Token", token)
		rec := httptest.NewRecorder()
		mw(echoUser()).ServeHTTP(rec, req)
		assert.Equal(t, userID.String(), rec.Body.String())

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Api-Token", "broken")
		rec = httptest.NewRecorder()
		mw(echoUser()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.ErrorIs(t, handled, auth.ErrInvalidToken)
	})
}

func TestBearerTokenExtractor(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		header string
		want   string
		err    bool
	}{
		"bearer":      {header: "Bearer abc", want: "abc"},
		"lower case":  {header: "bearer abc", want: "abc"},
		"basic":       {header: "Basic abc", err: true},
		"empty":       {header: "", err: true},
		"scheme only": {header: "Bearer ", err: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			got, err := auth.BearerTokenExtractor(req)
			if tt.err {
				assert.ErrorIs(t, err, auth.ErrMissingToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserFromContext(t *testing.T) {
	t.Parallel()

	_, ok := auth.UserFromContext(context.Background())
	assert.False(t, ok)

	_, ok = auth.UserFromContext(auth.SetUserID(context.Background(), uuid.Nil))
	assert.False(t, ok)

	id := uuid.New()
	got, ok := auth.UserFromContext(auth.SetUserID(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)
}
