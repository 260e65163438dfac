package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/platform/auth"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultRetryCount = 2
	defaultRetryWait  = 200 * time.Millisecond
)

// Config parameterises the identity client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// Client resolves bearer tokens against the identity authority. It implements
// auth.TokenVerifier so it can plug straight into the auth middleware.
type Client struct {
	http *resty.Client
}

type verifyResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// New constructs an identity client from the provided configuration.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("identity client: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryCount := cfg.RetryCount
	if retryCount < 0 {
		retryCount = defaultRetryCount
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Retry transport failures and 5xx only; a definitive 401/403
			// verdict must not be retried.
			if err != nil {
				return true
			}
			return resp.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: client}, nil
}

var _ auth.TokenVerifier = (*Client)(nil)

// VerifyToken asks the identity authority to validate the token and returns
// the principal it resolves to.
func (c *Client) VerifyToken(ctx context.Context, token string) (auth.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Principal{}, auth.ErrTokenInvalid
	}

	var payload verifyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetResult(&payload).
		Get("/api/v1/auth/verify-token")
	if err != nil {
		return auth.Principal{}, fmt.Errorf("%w: %v", auth.ErrVerifierUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return auth.Principal{}, auth.ErrTokenExpired
	case resp.StatusCode() == http.StatusForbidden:
		return auth.Principal{}, auth.ErrTokenInvalid
	case resp.StatusCode() >= http.StatusInternalServerError:
		return auth.Principal{}, fmt.Errorf("%w: verify returned %d", auth.ErrVerifierUnavailable, resp.StatusCode())
	case resp.IsError():
		return auth.Principal{}, auth.ErrTokenInvalid
	}

	if strings.TrimSpace(payload.ID) == "" {
		return auth.Principal{}, auth.ErrTokenInvalid
	}

	return auth.Principal{
		ID:    strings.TrimSpace(payload.ID),
		Email: strings.TrimSpace(payload.Email),
		Role:  strings.TrimSpace(payload.Role),
	}, nil
}
