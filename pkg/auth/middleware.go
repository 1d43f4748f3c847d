package auth

import (
	"net/http"
	"strings"
)

// TokenExtractorFunc extracts a raw token from a request.
type TokenExtractorFunc func(r *http.Request) (string, error)

// ErrorHandlerFunc writes the response for a rejected token.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

type middlewareOptions struct {
	extractor    TokenExtractorFunc
	errorHandler ErrorHandlerFunc
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithExtractor replaces the token extractor.
func WithExtractor(fn TokenExtractorFunc) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.extractor = fn
		}
	}
}

// WithErrorHandler replaces the 401 response written for invalid tokens.
func WithErrorHandler(fn ErrorHandlerFunc) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.errorHandler = fn
		}
	}
}

// Middleware verifies the request token and stores the user id in the
// context. Requests without a token pass through anonymously so handlers
// decide whether authentication is required. Invalid tokens are rejected.
// The configured token header, if any, is read before the bearer token.
func Middleware(svc *Service, opts ...MiddlewareOption) func(next http.Handler) http.Handler {
	extractor := BearerTokenExtractor
	if svc.header != "" {
		extractor = FirstTokenExtractor(HeaderTokenExtractor(svc.header), BearerTokenExtractor)
	}
	o := &middlewareOptions{
		extractor: extractor,
		errorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := o.extractor(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := svc.Verify(token)
			if err != nil {
				o.errorHandler(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
		})
	}
}

// BearerTokenExtractor reads "Authorization: Bearer <token>".
func BearerTokenExtractor(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// HeaderTokenExtractor reads the token from a custom header.
func HeaderTokenExtractor(name string) TokenExtractorFunc {
	return func(r *http.Request) (string, error) {
		token := r.Header.Get(name)
		if token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}
}

// FirstTokenExtractor returns the first token found by extractors.
func FirstTokenExtractor(extractors ...TokenExtractorFunc) TokenExtractorFunc {
	return func(r *http.Request) (string, error) {
		for _, fn := range extractors {
			if token, err := fn(r); err == nil {
				return token, nil
			}
		}
		return "", ErrMissingToken
	}
}
